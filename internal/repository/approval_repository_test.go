package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdoc/dms-api/internal/models"
)

func newApprovalRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestApprovalRepositoryInsertRequests(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	requests := []models.ApprovalRequest{
		{ID: "r1", DocumentID: "doc-1", TrackingID: "t1", ApproverID: "u1", SequenceLevel: 1, Status: models.DecisionPending, RequestedDate: time.Now()},
		{ID: "r2", DocumentID: "doc-1", TrackingID: "t1", ApproverID: "u2", SequenceLevel: 1, Status: models.DecisionPending, RequestedDate: time.Now()},
	}
	require.NoError(t, repo.InsertRequests(context.Background(), requests))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryInsertNothing(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	require.NoError(t, repo.InsertRequests(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryDecideAppliesOnce(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	actedAt := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests")).
		WithArgs("r1", string(models.DecisionApproved), "ok", "", actedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.Decide(context.Background(), "r1", models.DecisionApproved, "ok", "", actedAt)
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryDecideLosesRace(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	actedAt := time.Now().UTC()

	// Zero rows touched: the status guard saw a non-PENDING row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests")).
		WithArgs("r1", string(models.DecisionRejected), "late", "late", actedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.Decide(context.Background(), "r1", models.DecisionRejected, "late", "late", actedAt)
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryPendingByDocument(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "document_id", "tracking_id", "approver_id", "approver_name", "sequence_level", "status", "comments", "rejection_reason", "cancelled", "requested_date", "acted_at"}).
		AddRow("r1", "doc-1", "t1", "u1", "Dana", 1, "PENDING", "", "", false, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM approval_requests")).
		WithArgs("doc-1", "t1").
		WillReturnRows(rows)

	pending, err := repo.PendingByDocument(context.Background(), "doc-1", "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].ID)
	assert.Equal(t, models.DecisionPending, pending[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryCurrentTrackingIDEmpty(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT tracking_id FROM approval_requests")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"tracking_id"}))

	trackingID, err := repo.CurrentTrackingID(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, trackingID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryCancelPending(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests SET cancelled = TRUE")).
		WithArgs("doc-1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.CancelPending(context.Background(), "doc-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}
