package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexdoc/dms-api/internal/dto"
	"github.com/nexdoc/dms-api/internal/service"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
	"github.com/nexdoc/dms-api/pkg/response"
)

// ApprovalHandler exposes the approval workflow endpoints.
type ApprovalHandler struct {
	workflow *service.WorkflowService
	export   *service.ExportService
}

// NewApprovalHandler constructs handler.
func NewApprovalHandler(workflow *service.WorkflowService, export *service.ExportService) *ApprovalHandler {
	return &ApprovalHandler{workflow: workflow, export: export}
}

// Status godoc
// @Summary Approval status snapshot
// @Description Reconciled pending requests, decision history and roll-up for a document
// @Tags Approvals
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id}/approvals [get]
func (h *ApprovalHandler) Status(c *gin.Context) {
	status, err := h.workflow.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// RequestApproval godoc
// @Summary Start an approval cycle
// @Description Opens level-1 approval requests for the document
// @Tags Approvals
// @Produce json
// @Param id path string true "Document ID"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id}/approvals [post]
func (h *ApprovalHandler) RequestApproval(c *gin.Context) {
	res, err := h.workflow.RequestApproval(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Decide godoc
// @Summary Approve or reject a pending request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param requestId path string true "Approval request ID"
// @Param payload body dto.DecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id}/approvals/{requestId}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var payload dto.DecisionRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}

	entry, err := h.workflow.Act(c.Request.Context(), c.Param("id"), c.Param("requestId"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// History godoc
// @Summary Full decision history
// @Description Decision history across all approval cycles of the document
// @Tags Approvals
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/approvals/history [get]
func (h *ApprovalHandler) History(c *gin.Context) {
	history, err := h.workflow.FullHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Export godoc
// @Summary Export approval history
// @Description Download the document's decision history as CSV or PDF
// @Tags Approvals
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Document ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /documents/{id}/approvals/export [get]
func (h *ApprovalHandler) Export(c *gin.Context) {
	documentID := c.Param("id")
	history, err := h.workflow.FullHistory(c.Request.Context(), documentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.export.Render(documentID, c.Query("format"), history)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
