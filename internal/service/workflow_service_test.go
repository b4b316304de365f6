package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdoc/dms-api/internal/dto"
	"github.com/nexdoc/dms-api/internal/models"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
)

// memApprovalStore mirrors the repository's single-table semantics: decided
// rows stay in the store and Decide is a compare-and-swap on PENDING.
type memApprovalStore struct {
	rows  map[string]*models.ApprovalRequest
	order []string
}

func newMemApprovalStore() *memApprovalStore {
	return &memApprovalStore{rows: map[string]*models.ApprovalRequest{}}
}

func (m *memApprovalStore) InsertRequests(_ context.Context, requests []models.ApprovalRequest) error {
	for i := range requests {
		row := requests[i]
		m.rows[row.ID] = &row
		m.order = append(m.order, row.ID)
	}
	return nil
}

func (m *memApprovalStore) PendingByDocument(_ context.Context, documentID, trackingID string) ([]models.ApprovalRequest, error) {
	var out []models.ApprovalRequest
	for _, id := range m.order {
		row := m.rows[id]
		if row.DocumentID == documentID && row.TrackingID == trackingID &&
			row.Status == models.DecisionPending && !row.Cancelled {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceLevel < out[j].SequenceLevel })
	return out, nil
}

func (m *memApprovalStore) HistoryByDocument(_ context.Context, documentID, trackingID string) ([]models.ApprovalHistoryEntry, error) {
	var out []models.ApprovalHistoryEntry
	for _, id := range m.order {
		row := m.rows[id]
		if row.DocumentID == documentID && row.TrackingID == trackingID &&
			row.Status != models.DecisionPending && !row.Cancelled {
			out = append(out, row.HistoryEntry())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceLevel < out[j].SequenceLevel })
	return out, nil
}

func (m *memApprovalStore) FullHistoryByDocument(_ context.Context, documentID string) ([]models.ApprovalHistoryEntry, error) {
	var out []models.ApprovalHistoryEntry
	for _, id := range m.order {
		row := m.rows[id]
		if row.DocumentID == documentID && row.Status != models.DecisionPending && !row.Cancelled {
			out = append(out, row.HistoryEntry())
		}
	}
	return out, nil
}

func (m *memApprovalStore) CurrentTrackingID(_ context.Context, documentID string) (string, error) {
	latest := ""
	var latestAt time.Time
	for _, id := range m.order {
		row := m.rows[id]
		if row.DocumentID != documentID {
			continue
		}
		if latest == "" || !row.RequestedDate.Before(latestAt) {
			latest = row.TrackingID
			latestAt = row.RequestedDate
		}
	}
	return latest, nil
}

func (m *memApprovalStore) FindRequest(_ context.Context, requestID string) (*models.ApprovalRequest, error) {
	row, ok := m.rows[requestID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *row
	return &copied, nil
}

func (m *memApprovalStore) Decide(_ context.Context, requestID string, status models.DecisionStatus, comments, rejectionReason string, actedAt time.Time) (bool, error) {
	row, ok := m.rows[requestID]
	if !ok || row.Status != models.DecisionPending || row.Cancelled {
		return false, nil
	}
	row.Status = status
	row.Comments = comments
	row.RejectionReason = rejectionReason
	row.ActedAt = &actedAt
	return true, nil
}

func (m *memApprovalStore) CancelPending(_ context.Context, documentID, trackingID string) (int64, error) {
	var n int64
	for _, row := range m.rows {
		if row.DocumentID == documentID && row.TrackingID == trackingID &&
			row.Status == models.DecisionPending && !row.Cancelled {
			row.Cancelled = true
			n++
		}
	}
	return n, nil
}

type memDocumentStore struct {
	doc    *models.Document
	states []models.WorkflowState
}

func (m *memDocumentStore) FindByID(_ context.Context, id string) (*models.Document, error) {
	if m.doc == nil || m.doc.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *m.doc
	return &copied, nil
}

func (m *memDocumentStore) UpdateApprovalState(_ context.Context, _ string, state models.WorkflowState) error {
	m.doc.ApprovalState = state
	m.states = append(m.states, state)
	return nil
}

type memMatrixStore struct {
	matrix *models.ApprovalMatrix
	roster []models.MatrixApprover
}

func (m *memMatrixStore) GetMatrix(context.Context, string, string) (*models.ApprovalMatrix, error) {
	return m.matrix, nil
}

func (m *memMatrixStore) ListApprovers(context.Context, string, string) ([]models.MatrixApprover, error) {
	return m.roster, nil
}

type memUsers struct {
	names map[string]string
}

func (m *memUsers) Directory(context.Context) (map[string]string, error) {
	return m.names, nil
}

type recordingNotifier struct {
	levels    []int
	finalized []models.WorkflowState
}

func (n *recordingNotifier) LevelOpened(_ string, level int, _ []models.ApprovalRequest) {
	n.levels = append(n.levels, level)
}

func (n *recordingNotifier) WorkflowFinalized(_ string, state models.WorkflowState) {
	n.finalized = append(n.finalized, state)
}

type workflowFixture struct {
	svc       *WorkflowService
	approvals *memApprovalStore
	documents *memDocumentStore
	notifier  *recordingNotifier
}

func approver(id string, level int) models.MatrixApprover {
	return models.MatrixApprover{ApproverID: id, ApproverName: "Name " + id, SequenceLevel: level, Active: true}
}

func newWorkflowFixture(t *testing.T, rule models.AggregationRule, roster ...models.MatrixApprover) *workflowFixture {
	t.Helper()
	approvals := newMemApprovalStore()
	documents := &memDocumentStore{doc: &models.Document{
		ID:              "doc-1",
		Title:           "Budget 2026",
		DepartmentID:    "dep-1",
		SubDepartmentID: "sub-1",
		ApprovalState:   models.WorkflowPending,
	}}
	notifier := &recordingNotifier{}
	svc := NewWorkflowService(WorkflowDeps{
		Approvals: approvals,
		Documents: documents,
		Matrix: &memMatrixStore{
			matrix: &models.ApprovalMatrix{DepartmentID: "dep-1", SubDepartmentID: "sub-1", Rule: rule},
			roster: roster,
		},
		Users:    &memUsers{names: map[string]string{}},
		Notifier: notifier,
	}, WorkflowServiceConfig{})
	return &workflowFixture{svc: svc, approvals: approvals, documents: documents, notifier: notifier}
}

func actorFor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleManager}
}

func approve(t *testing.T, f *workflowFixture, requestID, approverID string) *models.ApprovalHistoryEntry {
	t.Helper()
	entry, err := f.svc.Act(context.Background(), "doc-1", requestID,
		dto.DecisionRequest{Action: "APPROVE", Comments: "ok"}, actorFor(approverID))
	require.NoError(t, err)
	return entry
}

func pendingIDs(t *testing.T, f *workflowFixture, trackingID string) []models.ApprovalRequest {
	t.Helper()
	pending, err := f.approvals.PendingByDocument(context.Background(), "doc-1", trackingID)
	require.NoError(t, err)
	return pending
}

func TestRequestApprovalOpensLevelOne(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll,
		approver("u1", 1), approver("u2", 1), approver("u3", 2))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.TrackingID)
	assert.Equal(t, 2, res.Requests)

	pending := pendingIDs(t, f, res.TrackingID)
	require.Len(t, pending, 2)
	for _, request := range pending {
		assert.Equal(t, 1, request.SequenceLevel)
	}
	assert.Equal(t, models.WorkflowInProgress, f.documents.doc.ApprovalState)
	assert.Equal(t, []int{1}, f.notifier.levels)
}

func TestRequestApprovalRejectedWhileActive(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	_, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)

	_, err = f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestRequestApprovalRequiresLevelOneRoster(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u3", 2))

	_, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRequestApprovalUnknownDocument(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	_, err := f.svc.RequestApproval(context.Background(), "doc-404", actorFor("owner"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestTwoLevelAllWorkflowApproves(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1), approver("u2", 2))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)

	levelOne := pendingIDs(t, f, res.TrackingID)
	require.Len(t, levelOne, 1)
	approve(t, f, levelOne[0].ID, "u1")

	// Level 1 fully approved: level 2 must now be open.
	levelTwo := pendingIDs(t, f, res.TrackingID)
	require.Len(t, levelTwo, 1)
	assert.Equal(t, 2, levelTwo[0].SequenceLevel)
	assert.Equal(t, "u2", levelTwo[0].ApproverID)

	approve(t, f, levelTwo[0].ID, "u2")

	assert.Empty(t, pendingIDs(t, f, res.TrackingID))
	assert.Equal(t, models.WorkflowApproved, f.documents.doc.ApprovalState)
	assert.Equal(t, []int{1, 2}, f.notifier.levels)
	assert.Equal(t, []models.WorkflowState{models.WorkflowApproved}, f.notifier.finalized)

	status, err := f.svc.Status(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, status.FinalStatus)
	assert.False(t, status.CanRequestApproval)
	assert.Len(t, status.History, 2)
}

func TestAllRuleRejectionShortCircuits(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1), approver("u2", 2))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)

	levelOne := pendingIDs(t, f, res.TrackingID)
	require.Len(t, levelOne, 1)

	_, err = f.svc.Act(context.Background(), "doc-1", levelOne[0].ID,
		dto.DecisionRequest{Action: "REJECT", Comments: "missing figures"}, actorFor("u1"))
	require.NoError(t, err)

	// Level 2 was never opened and the workflow is terminal.
	assert.Empty(t, pendingIDs(t, f, res.TrackingID))
	assert.Equal(t, models.WorkflowRejected, f.documents.doc.ApprovalState)
	assert.Equal(t, []int{1}, f.notifier.levels)
	assert.Equal(t, []models.WorkflowState{models.WorkflowRejected}, f.notifier.finalized)
}

func TestMajoritySameLevelFinishesBeforeFinalizing(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleMajority,
		approver("u1", 1), approver("u2", 1), approver("u3", 1))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	require.Equal(t, 3, res.Requests)

	pending := pendingIDs(t, f, res.TrackingID)
	approve(t, f, pending[0].ID, pending[0].ApproverID)
	approve(t, f, pending[1].ID, pending[1].ApproverID)

	// Two approvals already decide a 3-slot majority, but the last approver
	// still gets to record a decision before the cycle collapses.
	assert.Len(t, pendingIDs(t, f, res.TrackingID), 1)
	assert.Empty(t, f.notifier.finalized)

	_, err = f.svc.Act(context.Background(), "doc-1", pending[2].ID,
		dto.DecisionRequest{Action: "REJECT", Comments: "disagree"}, actorFor(pending[2].ApproverID))
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowApproved, f.documents.doc.ApprovalState)

	history, err := f.svc.FullHistory(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Len(t, history, 3, "every same-level decision is retained")
}

func TestActDecideOnce(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1), approver("u2", 1))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	pending := pendingIDs(t, f, res.TrackingID)

	approve(t, f, pending[0].ID, pending[0].ApproverID)

	_, err = f.svc.Act(context.Background(), "doc-1", pending[0].ID,
		dto.DecisionRequest{Action: "REJECT", Comments: "changed my mind"}, actorFor(pending[0].ApproverID))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyDecided))
}

func TestActRejectRequiresReason(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	pending := pendingIDs(t, f, res.TrackingID)

	_, err = f.svc.Act(context.Background(), "doc-1", pending[0].ID,
		dto.DecisionRequest{Action: "REJECT", Comments: "   "}, actorFor("u1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	// The request is untouched.
	assert.Len(t, pendingIDs(t, f, res.TrackingID), 1)
}

func TestActOnlyAssignedApprover(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	pending := pendingIDs(t, f, res.TrackingID)

	_, err = f.svc.Act(context.Background(), "doc-1", pending[0].ID,
		dto.DecisionRequest{Action: "APPROVE"}, actorFor("intruder"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestActRequestFromAnotherDocument(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	res, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	pending := pendingIDs(t, f, res.TrackingID)

	_, err = f.svc.Act(context.Background(), "doc-2", pending[0].ID,
		dto.DecisionRequest{Action: "APPROVE"}, actorFor("u1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestResubmissionAfterRejectionKeepsHistory(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	first, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	pending := pendingIDs(t, f, first.TrackingID)

	_, err = f.svc.Act(context.Background(), "doc-1", pending[0].ID,
		dto.DecisionRequest{Action: "REJECT", Comments: "not yet"}, actorFor("u1"))
	require.NoError(t, err)
	require.Equal(t, models.WorkflowRejected, f.documents.doc.ApprovalState)

	second, err := f.svc.RequestApproval(context.Background(), "doc-1", actorFor("owner"))
	require.NoError(t, err)
	assert.NotEqual(t, first.TrackingID, second.TrackingID)

	// The snapshot reflects the new cycle only.
	status, err := f.svc.Status(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowInProgress, status.FinalStatus)
	assert.Empty(t, status.History)
	require.Len(t, status.PendingRequests, 1)

	// The prior cycle's decision survives in the full history.
	history, err := f.svc.FullHistory(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.DecisionRejected, history[0].Status)
}

func TestStatusUnknownDocument(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	_, err := f.svc.Status(context.Background(), "doc-404")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestStatusEmptyDocumentCanRequestApproval(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))

	status, err := f.svc.Status(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPending, status.FinalStatus)
	assert.True(t, status.CanRequestApproval)
	assert.Equal(t, 1, status.CurrentLevel)
}

type fetchCountingLegacy struct {
	calls int
	err   error
	rows  []models.LegacyApprovalRow
}

func (f *fetchCountingLegacy) FetchRequests(context.Context, string) ([]models.LegacyApprovalRow, error) {
	f.calls++
	return f.rows, f.err
}

func TestStatusAbsorbsLegacyFailure(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))
	legacy := &fetchCountingLegacy{err: appErrors.Clone(appErrors.ErrUpstreamUnavailable, "")}
	f.svc.legacy = legacy

	status, err := f.svc.Status(context.Background(), "doc-1")
	require.NoError(t, err, "legacy outages never surface to callers")
	assert.Equal(t, 1, legacy.calls)
	assert.Equal(t, models.WorkflowPending, status.FinalStatus)
}

func TestStatusMergesLegacyRows(t *testing.T) {
	f := newWorkflowFixture(t, models.RuleAll, approver("u1", 1))
	raw := "pending"
	f.svc.legacy = &fetchCountingLegacy{rows: []models.LegacyApprovalRow{{
		RequestID:     "legacy-1",
		DocumentID:    "doc-1",
		ApproverID:    "u1",
		SequenceLevel: 1,
		Status:        &raw,
	}}}

	status, err := f.svc.Status(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, status.PendingRequests, 1)
	assert.Equal(t, "legacy-1", status.PendingRequests[0].ID)
	assert.Equal(t, "Name u1", status.PendingRequests[0].ApproverName, "roster name patched onto legacy row")
	assert.Equal(t, models.WorkflowInProgress, status.FinalStatus)
}
