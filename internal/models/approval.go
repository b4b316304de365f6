package models

import "time"

// DecisionStatus is the canonical status of a single approval request slot.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "PENDING"
	DecisionApproved DecisionStatus = "APPROVED"
	DecisionRejected DecisionStatus = "REJECTED"
)

// WorkflowState is the derived state of a document's approval workflow.
type WorkflowState string

const (
	WorkflowPending    WorkflowState = "PENDING"
	WorkflowInProgress WorkflowState = "IN_PROGRESS"
	WorkflowApproved   WorkflowState = "APPROVED"
	WorkflowRejected   WorkflowState = "REJECTED"
)

// AggregationRule decides how per-level outcomes collapse into one final status.
type AggregationRule string

const (
	RuleAll      AggregationRule = "ALL"
	RuleMajority AggregationRule = "MAJORITY"
)

// ApprovalRequest is one pending decision slot, stored in approval_requests.
// Decided rows stay in the same table with a non-PENDING status; the pending
// set and the history are two projections of the one table, so moving a
// request between them is a single conditional UPDATE.
type ApprovalRequest struct {
	ID              string         `db:"id" json:"id"`
	DocumentID      string         `db:"document_id" json:"document_id"`
	TrackingID      string         `db:"tracking_id" json:"tracking_id"`
	ApproverID      string         `db:"approver_id" json:"approver_id"`
	ApproverName    string         `db:"approver_name" json:"approver_name"`
	SequenceLevel   int            `db:"sequence_level" json:"sequence_level"`
	Status          DecisionStatus `db:"status" json:"status"`
	Comments        string         `db:"comments" json:"comments,omitempty"`
	RejectionReason string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Cancelled       bool           `db:"cancelled" json:"-"`
	RequestedDate   time.Time      `db:"requested_date" json:"requested_date"`
	ActedAt         *time.Time     `db:"acted_at" json:"acted_at,omitempty"`
}

// HistoryEntry returns the decided view of the request. Only meaningful once
// Status is APPROVED or REJECTED.
func (r ApprovalRequest) HistoryEntry() ApprovalHistoryEntry {
	entry := ApprovalHistoryEntry{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		TrackingID:      r.TrackingID,
		ApproverID:      r.ApproverID,
		ApproverName:    r.ApproverName,
		SequenceLevel:   r.SequenceLevel,
		Status:          r.Status,
		Comments:        r.Comments,
		RejectionReason: r.RejectionReason,
	}
	if r.ActedAt != nil {
		entry.ActedAt = *r.ActedAt
	}
	return entry
}

// ApprovalHistoryEntry is a decided request.
type ApprovalHistoryEntry struct {
	ID              string         `db:"id" json:"id"`
	DocumentID      string         `db:"document_id" json:"document_id"`
	TrackingID      string         `db:"tracking_id" json:"tracking_id"`
	ApproverID      string         `db:"approver_id" json:"approver_id"`
	ApproverName    string         `db:"approver_name" json:"approver_name"`
	SequenceLevel   int            `db:"sequence_level" json:"sequence_level"`
	Status          DecisionStatus `db:"status" json:"status"`
	Comments        string         `db:"comments" json:"comments,omitempty"`
	RejectionReason string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ActedAt         time.Time      `db:"acted_at" json:"acted_at"`
}

// ApprovalLevel is a rollup of all decisions at one sequence level.
type ApprovalLevel struct {
	SequenceLevel int            `json:"sequence_level"`
	Status        DecisionStatus `json:"status"`
	ActedBy       string         `json:"acted_by,omitempty"`
	ActedAt       *time.Time     `json:"acted_at,omitempty"`
	Comments      string         `json:"comments,omitempty"`
}

// ApprovalStatus is the merged snapshot returned to callers.
type ApprovalStatus struct {
	DocumentID         string                 `json:"document_id"`
	TrackingID         string                 `json:"tracking_id,omitempty"`
	CurrentLevel       int                    `json:"current_level"`
	TotalLevels        int                    `json:"total_levels"`
	FinalStatus        WorkflowState          `json:"final_status"`
	Rule               AggregationRule        `json:"all_or_majority"`
	LevelsCompleted    int                    `json:"levels_completed"`
	Levels             []ApprovalLevel        `json:"levels"`
	PendingRequests    []ApprovalRequest      `json:"pending_requests"`
	History            []ApprovalHistoryEntry `json:"history"`
	CanRequestApproval bool                   `json:"can_request_approval"`
}

// Decision captures an approver's action on a pending request.
type Decision struct {
	Action     DecisionStatus
	ApproverID string
	Comments   string
}
