package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexdoc/dms-api/internal/models"
)

func history(statuses ...models.DecisionStatus) []models.ApprovalHistoryEntry {
	entries := make([]models.ApprovalHistoryEntry, len(statuses))
	for i, status := range statuses {
		entries[i] = models.ApprovalHistoryEntry{ID: string(rune('a' + i)), Status: status}
	}
	return entries
}

func TestAggregateAllRule(t *testing.T) {
	assert.Equal(t, models.WorkflowApproved,
		Aggregate(history(models.DecisionApproved, models.DecisionApproved), models.RuleAll))
	assert.Equal(t, models.WorkflowRejected,
		Aggregate(history(models.DecisionApproved, models.DecisionRejected), models.RuleAll))
	assert.Equal(t, models.WorkflowRejected,
		Aggregate(history(models.DecisionRejected), models.RuleAll))
}

func TestAggregateMajorityRule(t *testing.T) {
	assert.Equal(t, models.WorkflowApproved,
		Aggregate(history(models.DecisionApproved, models.DecisionApproved, models.DecisionRejected), models.RuleMajority))
	assert.Equal(t, models.WorkflowRejected,
		Aggregate(history(models.DecisionApproved, models.DecisionRejected, models.DecisionRejected), models.RuleMajority))
}

func TestAggregateMajorityTieRejects(t *testing.T) {
	assert.Equal(t, models.WorkflowRejected,
		Aggregate(history(models.DecisionApproved, models.DecisionRejected), models.RuleMajority))
}

func TestAggregateEmptyHistoryIsPending(t *testing.T) {
	assert.Equal(t, models.WorkflowPending, Aggregate(nil, models.RuleAll))
	assert.Equal(t, models.WorkflowPending, Aggregate(nil, models.RuleMajority))
}

func TestOutcomeDecidedAll(t *testing.T) {
	state, decided := OutcomeDecided(1, 1, 3, models.RuleAll)
	assert.True(t, decided)
	assert.Equal(t, models.WorkflowRejected, state)

	_, decided = OutcomeDecided(2, 0, 1, models.RuleAll)
	assert.False(t, decided)

	state, decided = OutcomeDecided(3, 0, 0, models.RuleAll)
	assert.True(t, decided)
	assert.Equal(t, models.WorkflowApproved, state)
}

func TestOutcomeDecidedMajority(t *testing.T) {
	// 2-0 with one slot left: approvals cannot be caught.
	state, decided := OutcomeDecided(2, 0, 1, models.RuleMajority)
	assert.True(t, decided)
	assert.Equal(t, models.WorkflowApproved, state)

	// 1-1 with one slot left: still anyone's game.
	_, decided = OutcomeDecided(1, 1, 1, models.RuleMajority)
	assert.False(t, decided)

	// 0-2 with two slots left: best case is a tie, which rejects.
	state, decided = OutcomeDecided(0, 2, 2, models.RuleMajority)
	assert.True(t, decided)
	assert.Equal(t, models.WorkflowRejected, state)
}

func TestParseRule(t *testing.T) {
	assert.Equal(t, models.RuleMajority, ParseRule("MAJORITY"))
	assert.Equal(t, models.RuleAll, ParseRule("ALL"))
	assert.Equal(t, models.RuleAll, ParseRule(""))
	assert.Equal(t, models.RuleAll, ParseRule("whatever"))
}
