package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nexdoc/dms-api/internal/models"
)

// MatrixRepository reads the externally-managed approval matrix.
type MatrixRepository struct {
	db *sqlx.DB
}

// NewMatrixRepository constructs the repository.
func NewMatrixRepository(db *sqlx.DB) *MatrixRepository {
	return &MatrixRepository{db: db}
}

// GetMatrix returns the aggregation rule configured for a department pair,
// or nil when none is configured (callers fall back to the default rule).
func (r *MatrixRepository) GetMatrix(ctx context.Context, departmentID, subDepartmentID string) (*models.ApprovalMatrix, error) {
	const query = `SELECT department_id, sub_department_id, all_or_majority
FROM approval_matrix WHERE department_id = $1 AND sub_department_id = $2`
	var matrix models.ApprovalMatrix
	if err := r.db.GetContext(ctx, &matrix, query, departmentID, subDepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get approval matrix: %w", err)
	}
	return &matrix, nil
}

// ListApprovers returns the active approver roster ordered by level.
func (r *MatrixRepository) ListApprovers(ctx context.Context, departmentID, subDepartmentID string) ([]models.MatrixApprover, error) {
	const query = `SELECT department_id, sub_department_id, approver_id, approver_name, sequence_level, active
FROM matrix_approvers
WHERE department_id = $1 AND sub_department_id = $2 AND active = TRUE
ORDER BY sequence_level ASC, approver_name ASC`
	var approvers []models.MatrixApprover
	if err := r.db.SelectContext(ctx, &approvers, query, departmentID, subDepartmentID); err != nil {
		return nil, fmt.Errorf("list matrix approvers: %w", err)
	}
	return approvers, nil
}
