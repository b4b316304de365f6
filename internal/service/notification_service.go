package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexdoc/dms-api/internal/models"
	"github.com/nexdoc/dms-api/pkg/config"
	"github.com/nexdoc/dms-api/pkg/jobs"
)

const (
	jobTypeLevelOpened       = "approval.level_opened"
	jobTypeWorkflowFinalized = "approval.workflow_finalized"
)

// LevelOpenedEvent is emitted when a new approval level becomes active.
type LevelOpenedEvent struct {
	DocumentID  string
	Level       int
	ApproverIDs []string
}

// WorkflowFinalizedEvent is emitted when a workflow reaches a terminal state.
type WorkflowFinalizedEvent struct {
	DocumentID  string
	FinalStatus models.WorkflowState
}

// NotificationService fans workflow events out through the background queue.
// Delivery channels are out of scope; the handler records the intent so a
// real dispatcher can be swapped in behind the queue.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the dispatcher and its queue.
func NewNotificationService(cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start begins background dispatch.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatcher.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// LevelOpened enqueues notifications for a freshly opened level.
func (s *NotificationService) LevelOpened(documentID string, level int, requests []models.ApprovalRequest) {
	approverIDs := make([]string, 0, len(requests))
	for _, request := range requests {
		approverIDs = append(approverIDs, request.ApproverID)
	}
	s.enqueue(jobTypeLevelOpened, LevelOpenedEvent{
		DocumentID:  documentID,
		Level:       level,
		ApproverIDs: approverIDs,
	})
}

// WorkflowFinalized enqueues the terminal-status notification.
func (s *NotificationService) WorkflowFinalized(documentID string, state models.WorkflowState) {
	s.enqueue(jobTypeWorkflowFinalized, WorkflowFinalizedEvent{
		DocumentID:  documentID,
		FinalStatus: state,
	})
}

func (s *NotificationService) enqueue(jobType string, payload interface{}) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
	})
	if err != nil {
		// Notifications are best-effort; losing one must not fail a workflow
		// transition.
		s.logger.Warn("failed to enqueue notification", zap.String("type", jobType), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	switch event := job.Payload.(type) {
	case LevelOpenedEvent:
		s.logger.Info("notify: approval level opened",
			zap.String("document_id", event.DocumentID),
			zap.Int("level", event.Level),
			zap.Strings("approvers", event.ApproverIDs))
		return nil
	case WorkflowFinalizedEvent:
		s.logger.Info("notify: approval workflow finalized",
			zap.String("document_id", event.DocumentID),
			zap.String("final_status", string(event.FinalStatus)))
		return nil
	default:
		return fmt.Errorf("unknown notification payload for job %s", job.ID)
	}
}
