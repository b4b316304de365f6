package service

import "github.com/nexdoc/dms-api/internal/models"

// Aggregate collapses a fully-decided history into one final status. Callers
// must only invoke it once the pending set is empty and the history is
// non-empty; for anything else the workflow state is derived elsewhere.
//
// ALL: every entry must be APPROVED; anything else rejects.
// MAJORITY: approvals must strictly outnumber rejections; a tie rejects.
func Aggregate(history []models.ApprovalHistoryEntry, rule models.AggregationRule) models.WorkflowState {
	if len(history) == 0 {
		return models.WorkflowPending
	}

	approved, rejected := 0, 0
	for _, entry := range history {
		switch entry.Status {
		case models.DecisionApproved:
			approved++
		case models.DecisionRejected:
			rejected++
		default:
			// An undecided entry in a "complete" history counts against
			// approval under both rules.
			rejected++
		}
	}

	if rule == models.RuleMajority {
		if approved > rejected {
			return models.WorkflowApproved
		}
		return models.WorkflowRejected
	}

	if rejected == 0 && approved == len(history) {
		return models.WorkflowApproved
	}
	return models.WorkflowRejected
}

// OutcomeDecided reports whether the final status is already determined given
// the decided counts and the number of still-open slots. Under ALL a single
// rejection decides the outcome immediately. Under MAJORITY the outcome is
// decided once the trailing side cannot catch up even if it wins every
// remaining slot.
func OutcomeDecided(approved, rejected, remaining int, rule models.AggregationRule) (models.WorkflowState, bool) {
	if rule == models.RuleMajority {
		if approved > rejected+remaining {
			return models.WorkflowApproved, true
		}
		// Ties reject, so rejection is certain once approvals cannot pull
		// strictly ahead.
		if approved+remaining <= rejected {
			return models.WorkflowRejected, true
		}
		return "", false
	}

	if rejected > 0 {
		return models.WorkflowRejected, true
	}
	if remaining == 0 {
		return models.WorkflowApproved, true
	}
	return "", false
}

// ParseRule normalises a configured rule string, defaulting to ALL.
func ParseRule(raw string) models.AggregationRule {
	if models.AggregationRule(raw) == models.RuleMajority {
		return models.RuleMajority
	}
	return models.RuleAll
}
