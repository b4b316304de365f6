package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexdoc/dms-api/internal/models"
)

// DocumentRepository persists documents.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, title, description, department_id, sub_department_id, owner_id,
approval_state, active, created_at, updated_at`

// List returns documents matching the filter plus a total count.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	conditions := []string{"active = TRUE"}
	args := []interface{}{}

	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)))
	}
	if filter.ApprovalState != nil {
		args = append(args, *filter.ApprovalState)
		conditions = append(conditions, fmt.Sprintf("approval_state = $%d", len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM documents WHERE %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	args = append(args, pageSize, (page-1)*pageSize)

	query := fmt.Sprintf(`SELECT %s FROM documents WHERE %s
ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, documentColumns, where, len(args)-1, len(args))

	var documents []models.Document
	if err := r.db.SelectContext(ctx, &documents, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return documents, total, nil
}

// FindByID fetches a single document.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)
	var document models.Document
	if err := r.db.GetContext(ctx, &document, query, id); err != nil {
		return nil, err
	}
	return &document, nil
}

// Create inserts a new document.
func (r *DocumentRepository) Create(ctx context.Context, document *models.Document) error {
	const query = `INSERT INTO documents
(id, title, description, department_id, sub_department_id, owner_id, approval_state, active, created_at, updated_at)
VALUES (:id, :title, :description, :department_id, :sub_department_id, :owner_id, :approval_state, :active, :created_at, :updated_at)`
	now := time.Now().UTC()
	document.CreatedAt = now
	document.UpdatedAt = now
	if _, err := r.db.NamedExecContext(ctx, query, document); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// Update saves metadata changes.
func (r *DocumentRepository) Update(ctx context.Context, document *models.Document) error {
	const query = `UPDATE documents
SET title = :title, description = :description, updated_at = :updated_at
WHERE id = :id`
	document.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, query, document); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// UpdateApprovalState refreshes the denormalised workflow state.
func (r *DocumentRepository) UpdateApprovalState(ctx context.Context, id string, state models.WorkflowState) error {
	const query = `UPDATE documents SET approval_state = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, state, time.Now().UTC()); err != nil {
		return fmt.Errorf("update document approval state: %w", err)
	}
	return nil
}

// Delete soft-deletes a document.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE documents SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
