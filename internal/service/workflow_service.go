package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexdoc/dms-api/internal/dto"
	"github.com/nexdoc/dms-api/internal/models"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
)

type approvalStore interface {
	InsertRequests(ctx context.Context, requests []models.ApprovalRequest) error
	PendingByDocument(ctx context.Context, documentID, trackingID string) ([]models.ApprovalRequest, error)
	HistoryByDocument(ctx context.Context, documentID, trackingID string) ([]models.ApprovalHistoryEntry, error)
	FullHistoryByDocument(ctx context.Context, documentID string) ([]models.ApprovalHistoryEntry, error)
	CurrentTrackingID(ctx context.Context, documentID string) (string, error)
	FindRequest(ctx context.Context, requestID string) (*models.ApprovalRequest, error)
	Decide(ctx context.Context, requestID string, status models.DecisionStatus, comments, rejectionReason string, actedAt time.Time) (bool, error)
	CancelPending(ctx context.Context, documentID, trackingID string) (int64, error)
}

type workflowDocumentStore interface {
	FindByID(ctx context.Context, id string) (*models.Document, error)
	UpdateApprovalState(ctx context.Context, id string, state models.WorkflowState) error
}

type matrixStore interface {
	GetMatrix(ctx context.Context, departmentID, subDepartmentID string) (*models.ApprovalMatrix, error)
	ListApprovers(ctx context.Context, departmentID, subDepartmentID string) ([]models.MatrixApprover, error)
}

type legacySource interface {
	FetchRequests(ctx context.Context, documentID string) ([]models.LegacyApprovalRow, error)
}

type userDirectorySource interface {
	Directory(ctx context.Context) (map[string]string, error)
}

type statusCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type workflowNotifier interface {
	LevelOpened(documentID string, level int, requests []models.ApprovalRequest)
	WorkflowFinalized(documentID string, state models.WorkflowState)
}

type workflowAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// WorkflowServiceConfig tunes the engine.
type WorkflowServiceConfig struct {
	DefaultRule    models.AggregationRule
	StatusCacheTTL time.Duration
}

// WorkflowService is the approval workflow engine. It owns every state
// transition: requesting approval, recording decisions, opening levels and
// finalising. Reads go through the reconciler so callers always see one
// consistent snapshot regardless of which backend the data came from.
type WorkflowService struct {
	approvals  approvalStore
	documents  workflowDocumentStore
	matrix     matrixStore
	legacy     legacySource
	users      userDirectorySource
	cache      statusCache
	notifier   workflowNotifier
	audit      workflowAuditor
	reconciler *StatusReconciler
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	config     WorkflowServiceConfig
}

// WorkflowDeps collects the engine's collaborators. Legacy, Cache, Notifier,
// Audit and Metrics are optional; leave them nil to disable the concern.
type WorkflowDeps struct {
	Approvals  approvalStore
	Documents  workflowDocumentStore
	Matrix     matrixStore
	Legacy     legacySource
	Users      userDirectorySource
	Cache      statusCache
	Notifier   workflowNotifier
	Audit      workflowAuditor
	Reconciler *StatusReconciler
	Metrics    *MetricsService
	Validator  *validator.Validate
	Logger     *zap.Logger
}

// NewWorkflowService wires the engine.
func NewWorkflowService(deps WorkflowDeps, cfg WorkflowServiceConfig) *WorkflowService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := deps.Validator
	if validate == nil {
		validate = validator.New()
	}
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = NewStatusReconciler(logger)
	}
	if cfg.DefaultRule == "" {
		cfg.DefaultRule = models.RuleAll
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = 15 * time.Second
	}
	return &WorkflowService{
		approvals:  deps.Approvals,
		documents:  deps.Documents,
		matrix:     deps.Matrix,
		legacy:     deps.Legacy,
		users:      deps.Users,
		cache:      deps.Cache,
		notifier:   deps.Notifier,
		audit:      deps.Audit,
		reconciler: reconciler,
		metrics:    deps.Metrics,
		validator:  validate,
		logger:     logger,
		config:     cfg,
	}
}

func statusCacheKey(documentID string) string {
	return "approval_status:" + documentID
}

// Status returns the merged approval snapshot for a document. It is a pure
// read: safe to poll, never mutates state, and never fails because the
// legacy source is down.
func (s *WorkflowService) Status(ctx context.Context, documentID string) (*models.ApprovalStatus, error) {
	if s.cache != nil {
		var cached models.ApprovalStatus
		if err := s.cache.Get(ctx, statusCacheKey(documentID), &cached); err == nil {
			return &cached, nil
		}
	}

	status, _, err := s.buildStatus(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statusCacheKey(documentID), status, s.config.StatusCacheTTL); err != nil {
			s.logger.Warn("failed to cache approval status", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	return status, nil
}

// buildStatus assembles the snapshot fresh from both sources.
func (s *WorkflowService) buildStatus(ctx context.Context, documentID string) (*models.ApprovalStatus, *models.Document, error) {
	document, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}

	rule, roster, err := s.loadMatrix(ctx, document)
	if err != nil {
		return nil, nil, err
	}

	canonical, err := s.canonicalSnapshot(ctx, document, rule)
	if err != nil {
		return nil, nil, err
	}

	var legacyRows []models.LegacyApprovalRow
	if s.legacy != nil {
		legacyRows, err = s.legacy.FetchRequests(ctx, documentID)
		if err != nil {
			// Best-effort source: degrade to canonical-only data.
			s.logger.Warn("legacy source unavailable, using canonical data only",
				zap.String("document_id", documentID), zap.Error(err))
			if s.metrics != nil {
				s.metrics.ObserveLegacyFetch(false)
			}
			legacyRows = nil
		} else if s.metrics != nil {
			s.metrics.ObserveLegacyFetch(true)
		}
	}

	directory := s.directory(ctx, roster)
	status := s.reconciler.Reconcile(documentID, canonical, legacyRows, directory, rule)
	return status, document, nil
}

// canonicalSnapshot builds the store-backed view of the current cycle. A
// document with no cycle yet yields an empty snapshot; the reconciler may
// still fill it from the legacy feed.
func (s *WorkflowService) canonicalSnapshot(ctx context.Context, document *models.Document, rule models.AggregationRule) (*models.ApprovalStatus, error) {
	trackingID, err := s.approvals.CurrentTrackingID(ctx, document.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve approval cycle")
	}

	snapshot := &models.ApprovalStatus{
		DocumentID: document.ID,
		TrackingID: trackingID,
		Rule:       rule,
	}
	if trackingID == "" {
		return snapshot, nil
	}

	pending, err := s.approvals.PendingByDocument(ctx, document.ID, trackingID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending requests")
	}
	history, err := s.approvals.HistoryByDocument(ctx, document.ID, trackingID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval history")
	}

	snapshot.PendingRequests = pending
	snapshot.History = history
	return snapshot, nil
}

func (s *WorkflowService) loadMatrix(ctx context.Context, document *models.Document) (models.AggregationRule, []models.MatrixApprover, error) {
	rule := s.config.DefaultRule
	matrix, err := s.matrix.GetMatrix(ctx, document.DepartmentID, document.SubDepartmentID)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval matrix")
	}
	if matrix != nil && matrix.Rule != "" {
		rule = matrix.Rule
	}

	roster, err := s.matrix.ListApprovers(ctx, document.DepartmentID, document.SubDepartmentID)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approver roster")
	}
	return rule, roster, nil
}

// directory builds the name-resolution chain: matrix roster first, then the
// global user directory. A directory outage only costs display names.
func (s *WorkflowService) directory(ctx context.Context, roster []models.MatrixApprover) *ApproverDirectory {
	rosterNames := make(map[string]string, len(roster))
	for _, approver := range roster {
		if approver.ApproverName != "" {
			rosterNames[approver.ApproverID] = approver.ApproverName
		}
	}

	userNames := map[string]string{}
	if s.users != nil {
		names, err := s.users.Directory(ctx)
		if err != nil {
			s.logger.Warn("user directory lookup failed", zap.Error(err))
		} else {
			userNames = names
		}
	}
	return NewApproverDirectory(rosterNames, userNames)
}

// RequestApproval starts a new approval cycle for a document. Allowed only
// when no workflow is active: from the empty state, or after a REJECTED
// outcome (re-submission keeps all prior history).
func (s *WorkflowService) RequestApproval(ctx context.Context, documentID string, actor *models.JWTClaims) (*dto.RequestApprovalResponse, error) {
	status, document, err := s.buildStatus(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if !status.CanRequestApproval {
		switch status.FinalStatus {
		case models.WorkflowApproved:
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "document is already approved")
		default:
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "an approval workflow is already in progress")
		}
	}

	_, roster, err := s.loadMatrix(ctx, document)
	if err != nil {
		return nil, err
	}
	levelOne := approversAtLevel(roster, 1)
	if len(levelOne) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no level-1 approvers configured for this department")
	}

	// Supersede any dangling pending rows from an aborted prior cycle so the
	// reconciler sees them as dead branches.
	if status.TrackingID != "" {
		if _, err := s.approvals.CancelPending(ctx, documentID, status.TrackingID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to supersede stale requests")
		}
	}

	trackingID := uuid.NewString()
	directory := s.directory(ctx, roster)
	now := time.Now().UTC()

	requests := make([]models.ApprovalRequest, 0, len(levelOne))
	for _, approver := range levelOne {
		requests = append(requests, models.ApprovalRequest{
			ID:            uuid.NewString(),
			DocumentID:    documentID,
			TrackingID:    trackingID,
			ApproverID:    approver.ApproverID,
			ApproverName:  directory.Resolve(approver.ApproverID, approver.ApproverName),
			SequenceLevel: 1,
			Status:        models.DecisionPending,
			RequestedDate: now,
		})
	}

	if err := s.approvals.InsertRequests(ctx, requests); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval requests")
	}
	if err := s.documents.UpdateApprovalState(ctx, documentID, models.WorkflowInProgress); err != nil {
		s.logger.Warn("failed to update document approval state", zap.String("document_id", documentID), zap.Error(err))
	}

	s.invalidateStatus(ctx, documentID)
	s.writeAudit(ctx, actor, models.ActionRequestApproval, documentID, map[string]interface{}{
		"tracking_id": trackingID,
		"requests":    len(requests),
	})
	if s.notifier != nil {
		s.notifier.LevelOpened(documentID, 1, requests)
	}
	if s.metrics != nil {
		s.metrics.ObserveWorkflowStarted()
	}

	s.logger.Info("approval workflow started",
		zap.String("document_id", documentID),
		zap.String("tracking_id", trackingID),
		zap.Int("level_one_requests", len(requests)))

	return &dto.RequestApprovalResponse{Success: true, TrackingID: trackingID, Requests: len(requests)}, nil
}

// Act records an approver's decision on a pending request. Exactly one
// decision can ever be recorded per request: the storage layer decides with a
// compare-and-swap, so a concurrent second caller gets a conflict, never a
// silent overwrite.
func (s *WorkflowService) Act(ctx context.Context, documentID, requestID string, payload dto.DecisionRequest, actor *models.JWTClaims) (*models.ApprovalHistoryEntry, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	var decision models.DecisionStatus
	switch strings.ToUpper(payload.Action) {
	case "APPROVE":
		decision = models.DecisionApproved
	case "REJECT":
		decision = models.DecisionRejected
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be APPROVE or REJECT")
	}
	rejectionReason := ""
	if decision == models.DecisionRejected {
		rejectionReason = strings.TrimSpace(payload.Comments)
		if rejectionReason == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection reason is required")
		}
	}

	request, err := s.approvals.FindRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval request")
	}
	if request.DocumentID != documentID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found for this document")
	}
	if actor == nil || request.ApproverID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned approver may act on this request")
	}
	if request.Cancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "approval request was superseded")
	}
	if request.Status != models.DecisionPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "approval request already decided")
	}

	actedAt := time.Now().UTC()
	applied, err := s.approvals.Decide(ctx, requestID, decision, payload.Comments, rejectionReason, actedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	if !applied {
		// Lost the race: someone else decided between our read and write.
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "approval request already decided")
	}

	entry := request.HistoryEntry()
	entry.Status = decision
	entry.Comments = payload.Comments
	entry.RejectionReason = rejectionReason
	entry.ActedAt = actedAt

	if s.metrics != nil {
		s.metrics.ObserveDecision(string(decision))
	}
	action := models.ActionApproveRequest
	if decision == models.DecisionRejected {
		action = models.ActionRejectRequest
	}
	s.writeAudit(ctx, actor, action, documentID, map[string]interface{}{
		"request_id":     requestID,
		"sequence_level": request.SequenceLevel,
		"decision":       decision,
	})

	if err := s.advance(ctx, documentID, request.TrackingID); err != nil {
		// The decision itself is committed; progression can be retried on
		// the next action or picked up by a status read.
		s.logger.Error("level progression failed",
			zap.String("document_id", documentID),
			zap.String("tracking_id", request.TrackingID),
			zap.Error(err))
	}

	s.invalidateStatus(ctx, documentID)
	return &entry, nil
}

// advance evaluates level progression after a decision: finalise when the
// outcome is determined, open the next level when the current one is fully
// decided and the outcome is still open, otherwise wait for the remaining
// approvers at the current level.
func (s *WorkflowService) advance(ctx context.Context, documentID, trackingID string) error {
	document, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	rule, roster, err := s.loadMatrix(ctx, document)
	if err != nil {
		return err
	}

	pending, err := s.approvals.PendingByDocument(ctx, documentID, trackingID)
	if err != nil {
		return fmt.Errorf("load pending: %w", err)
	}
	if len(pending) > 0 {
		// Same-level approvers still deliberating.
		return nil
	}

	history, err := s.approvals.HistoryByDocument(ctx, documentID, trackingID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	approved, rejected := 0, 0
	decidedLevels := map[int]struct{}{}
	highestDecided := 0
	for _, entry := range history {
		decidedLevels[entry.SequenceLevel] = struct{}{}
		if entry.SequenceLevel > highestDecided {
			highestDecided = entry.SequenceLevel
		}
		if entry.Status == models.DecisionApproved {
			approved++
		} else {
			rejected++
		}
	}

	// Slots at levels the workflow has not opened yet.
	unopened := 0
	nextLevel := 0
	for _, approver := range roster {
		if _, opened := decidedLevels[approver.SequenceLevel]; opened {
			continue
		}
		if approver.SequenceLevel <= highestDecided {
			continue
		}
		unopened++
		if nextLevel == 0 || approver.SequenceLevel < nextLevel {
			nextLevel = approver.SequenceLevel
		}
	}

	if state, decided := OutcomeDecided(approved, rejected, unopened, rule); decided {
		return s.finalize(ctx, documentID, trackingID, state)
	}

	if nextLevel == 0 {
		// Outcome undecided but nothing left to open; collapse what we have.
		return s.finalize(ctx, documentID, trackingID, Aggregate(history, rule))
	}

	return s.openLevel(ctx, document, roster, trackingID, nextLevel)
}

func (s *WorkflowService) openLevel(ctx context.Context, document *models.Document, roster []models.MatrixApprover, trackingID string, level int) error {
	approvers := approversAtLevel(roster, level)
	if len(approvers) == 0 {
		return fmt.Errorf("no approvers configured at level %d", level)
	}

	directory := s.directory(ctx, roster)
	now := time.Now().UTC()
	requests := make([]models.ApprovalRequest, 0, len(approvers))
	for _, approver := range approvers {
		requests = append(requests, models.ApprovalRequest{
			ID:            uuid.NewString(),
			DocumentID:    document.ID,
			TrackingID:    trackingID,
			ApproverID:    approver.ApproverID,
			ApproverName:  directory.Resolve(approver.ApproverID, approver.ApproverName),
			SequenceLevel: level,
			Status:        models.DecisionPending,
			RequestedDate: now,
		})
	}

	if err := s.approvals.InsertRequests(ctx, requests); err != nil {
		return fmt.Errorf("open level %d: %w", level, err)
	}
	if s.notifier != nil {
		s.notifier.LevelOpened(document.ID, level, requests)
	}
	s.logger.Info("approval level opened",
		zap.String("document_id", document.ID),
		zap.Int("level", level),
		zap.Int("requests", len(requests)))
	return nil
}

func (s *WorkflowService) finalize(ctx context.Context, documentID, trackingID string, state models.WorkflowState) error {
	// Cancel slots that can no longer influence the outcome so the
	// reconciler treats them as dead branches, then persist the terminal
	// state on the document row.
	if _, err := s.approvals.CancelPending(ctx, documentID, trackingID); err != nil {
		return fmt.Errorf("cancel remaining slots: %w", err)
	}
	if err := s.documents.UpdateApprovalState(ctx, documentID, state); err != nil {
		return fmt.Errorf("persist final state: %w", err)
	}
	if s.notifier != nil {
		s.notifier.WorkflowFinalized(documentID, state)
	}
	if s.metrics != nil {
		s.metrics.ObserveWorkflowFinalized(string(state))
	}
	s.logger.Info("approval workflow finalized",
		zap.String("document_id", documentID),
		zap.String("tracking_id", trackingID),
		zap.String("final_status", string(state)))
	return nil
}

// FullHistory returns decided entries across every cycle of a document.
func (s *WorkflowService) FullHistory(ctx context.Context, documentID string) ([]models.ApprovalHistoryEntry, error) {
	if _, err := s.documents.FindByID(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	history, err := s.approvals.FullHistoryByDocument(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval history")
	}
	return history, nil
}

func (s *WorkflowService) invalidateStatus(ctx context.Context, documentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statusCacheKey(documentID)); err != nil {
		s.logger.Warn("failed to invalidate status cache", zap.String("document_id", documentID), zap.Error(err))
	}
}

func (s *WorkflowService) writeAudit(ctx context.Context, actor *models.JWTClaims, action, documentID string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(details)
	var userID *string
	if actor != nil {
		userID = &actor.UserID
	}
	resourceID := documentID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "document_approval",
		ResourceID: &resourceID,
		Details:    payload,
	}); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("document_id", documentID), zap.Error(err))
	}
}

func approversAtLevel(roster []models.MatrixApprover, level int) []models.MatrixApprover {
	var result []models.MatrixApprover
	for _, approver := range roster {
		if approver.SequenceLevel == level && approver.Active {
			result = append(result, approver)
		}
	}
	return result
}
