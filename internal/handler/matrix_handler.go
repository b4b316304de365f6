package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexdoc/dms-api/internal/dto"
	"github.com/nexdoc/dms-api/internal/models"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
	"github.com/nexdoc/dms-api/pkg/response"
)

type matrixReader interface {
	GetMatrix(ctx context.Context, departmentID, subDepartmentID string) (*models.ApprovalMatrix, error)
	ListApprovers(ctx context.Context, departmentID, subDepartmentID string) ([]models.MatrixApprover, error)
}

// MatrixHandler exposes the approval matrix read API.
type MatrixHandler struct {
	matrix matrixReader
}

// NewMatrixHandler constructs handler.
func NewMatrixHandler(matrix matrixReader) *MatrixHandler {
	return &MatrixHandler{matrix: matrix}
}

// Get godoc
// @Summary Approval matrix for a department pair
// @Tags Matrix
// @Produce json
// @Param departmentId query string true "Department ID"
// @Param subDepartmentId query string true "Sub-department ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /matrix [get]
func (h *MatrixHandler) Get(c *gin.Context) {
	departmentID := c.Query("departmentId")
	subDepartmentID := c.Query("subDepartmentId")
	if departmentID == "" || subDepartmentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "departmentId and subDepartmentId required"))
		return
	}

	matrix, err := h.matrix.GetMatrix(c.Request.Context(), departmentID, subDepartmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if matrix == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "approval matrix not configured"))
		return
	}

	roster, err := h.matrix.ListApprovers(c.Request.Context(), departmentID, subDepartmentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	res := dto.MatrixResponse{
		DepartmentID:    matrix.DepartmentID,
		SubDepartmentID: matrix.SubDepartmentID,
		AllOrMajority:   string(matrix.Rule),
	}
	for _, approver := range roster {
		res.Approvers = append(res.Approvers, dto.MatrixApprover{
			ApproverID:    approver.ApproverID,
			ApproverName:  approver.ApproverName,
			SequenceLevel: approver.SequenceLevel,
			Active:        approver.Active,
		})
	}

	response.JSON(c, http.StatusOK, res, nil)
}
