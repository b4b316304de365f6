package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexdoc/dms-api/internal/models"
)

// ApprovalRepository persists approval requests and their decisions. Pending
// and decided rows live in the same table; a decision is a single conditional
// UPDATE, so a request can never be observed outside both sets at once.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, document_id, tracking_id, approver_id, approver_name, sequence_level,
status, comments, rejection_reason, cancelled, requested_date, acted_at`

// InsertRequests creates a batch of pending requests in one transaction.
func (r *ApprovalRepository) InsertRequests(ctx context.Context, requests []models.ApprovalRequest) error {
	if len(requests) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert requests tx: %w", err)
	}
	const query = `INSERT INTO approval_requests
(id, document_id, tracking_id, approver_id, approver_name, sequence_level, status, comments, rejection_reason, cancelled, requested_date)
VALUES (:id, :document_id, :tracking_id, :approver_id, :approver_name, :sequence_level, :status, :comments, :rejection_reason, :cancelled, :requested_date)`
	for i := range requests {
		if _, err := tx.NamedExecContext(ctx, query, requests[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert approval request: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert requests tx: %w", err)
	}
	return nil
}

// PendingByDocument returns the active pending set for a document cycle.
func (r *ApprovalRepository) PendingByDocument(ctx context.Context, documentID, trackingID string) ([]models.ApprovalRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_requests
WHERE document_id = $1 AND tracking_id = $2 AND status = 'PENDING' AND NOT cancelled
ORDER BY sequence_level ASC, requested_date ASC`, approvalColumns)
	var requests []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &requests, query, documentID, trackingID); err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return requests, nil
}

// HistoryByDocument returns decided entries for a document cycle.
func (r *ApprovalRepository) HistoryByDocument(ctx context.Context, documentID, trackingID string) ([]models.ApprovalHistoryEntry, error) {
	const query = `SELECT id, document_id, tracking_id, approver_id, approver_name, sequence_level,
status, comments, rejection_reason, acted_at
FROM approval_requests
WHERE document_id = $1 AND tracking_id = $2 AND status IN ('APPROVED', 'REJECTED') AND NOT cancelled
ORDER BY sequence_level ASC, acted_at ASC`
	var entries []models.ApprovalHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, documentID, trackingID); err != nil {
		return nil, fmt.Errorf("list approval history: %w", err)
	}
	return entries, nil
}

// FullHistoryByDocument returns decided entries across all cycles, oldest first.
func (r *ApprovalRepository) FullHistoryByDocument(ctx context.Context, documentID string) ([]models.ApprovalHistoryEntry, error) {
	const query = `SELECT id, document_id, tracking_id, approver_id, approver_name, sequence_level,
status, comments, rejection_reason, acted_at
FROM approval_requests
WHERE document_id = $1 AND status IN ('APPROVED', 'REJECTED') AND NOT cancelled
ORDER BY acted_at ASC`
	var entries []models.ApprovalHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, documentID); err != nil {
		return nil, fmt.Errorf("list full approval history: %w", err)
	}
	return entries, nil
}

// CurrentTrackingID returns the tracking id of the most recent approval cycle,
// or empty when the document has never been submitted.
func (r *ApprovalRepository) CurrentTrackingID(ctx context.Context, documentID string) (string, error) {
	const query = `SELECT tracking_id FROM approval_requests
WHERE document_id = $1 ORDER BY requested_date DESC LIMIT 1`
	var trackingID string
	if err := r.db.GetContext(ctx, &trackingID, query, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find current tracking id: %w", err)
	}
	return trackingID, nil
}

// FindRequest fetches a single request row by id.
func (r *ApprovalRepository) FindRequest(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_requests WHERE id = $1`, approvalColumns)
	var request models.ApprovalRequest
	if err := r.db.GetContext(ctx, &request, query, requestID); err != nil {
		return nil, err
	}
	return &request, nil
}

// Decide records an approver's decision. The status guard makes the update a
// compare-and-swap: it succeeds only while the row is still PENDING, so
// exactly one decision can ever be recorded per request even across service
// instances. Returns false when the row was already decided or cancelled.
func (r *ApprovalRepository) Decide(ctx context.Context, requestID string, status models.DecisionStatus, comments, rejectionReason string, actedAt time.Time) (bool, error) {
	const query = `UPDATE approval_requests
SET status = $2, comments = $3, rejection_reason = $4, acted_at = $5
WHERE id = $1 AND status = 'PENDING' AND NOT cancelled`
	result, err := r.db.ExecContext(ctx, query, requestID, status, comments, rejectionReason, actedAt)
	if err != nil {
		return false, fmt.Errorf("decide approval request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide approval request rows: %w", err)
	}
	return affected == 1, nil
}

// CancelPending marks all still-pending requests of a cycle as cancelled.
// Used when a rejected level short-circuits the remaining levels, leaving
// dead branches the reconciler must ignore.
func (r *ApprovalRepository) CancelPending(ctx context.Context, documentID, trackingID string) (int64, error) {
	const query = `UPDATE approval_requests SET cancelled = TRUE
WHERE document_id = $1 AND tracking_id = $2 AND status = 'PENDING' AND NOT cancelled`
	result, err := r.db.ExecContext(ctx, query, documentID, trackingID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending requests: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending requests rows: %w", err)
	}
	return affected, nil
}
