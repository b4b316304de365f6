package service

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexdoc/dms-api/internal/models"
)

// StatusReconciler merges the canonical status snapshot with the legacy
// request-list feed into one consistent view. It never mutates stored state;
// everything here is a read-side computation.
//
// The legacy feed's status vocabulary is inconsistent (mixed case, numeric
// codes, nulls) and it can briefly double-report a row as both pending and
// decided while the backends converge, so normalisation and the final
// set-difference pass are both mandatory.
type StatusReconciler struct {
	logger *zap.Logger
}

// NewStatusReconciler constructs a reconciler.
func NewStatusReconciler(logger *zap.Logger) *StatusReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusReconciler{logger: logger}
}

// legacy status aliases, widest matching set per canonical value
var (
	approvedAliases = map[string]struct{}{"approved": {}, "1": {}}
	rejectedAliases = map[string]struct{}{"rejected": {}, "0": {}}
	pendingAliases  = map[string]struct{}{"pending": {}, "": {}, "null": {}}
)

// normalizeLegacyStatus maps a raw legacy status onto the canonical enum.
// A non-null ApprovalDate marks the row decided even when the status string
// is ambiguous; absent a rejection signal such rows read as APPROVED.
func normalizeLegacyStatus(row models.LegacyApprovalRow) models.DecisionStatus {
	raw := ""
	if row.Status != nil {
		raw = strings.ToLower(strings.TrimSpace(*row.Status))
	}

	if _, ok := approvedAliases[raw]; ok {
		return models.DecisionApproved
	}
	if _, ok := rejectedAliases[raw]; ok {
		return models.DecisionRejected
	}

	if legacyDecidedDate(row) != nil {
		if strings.Contains(raw, "reject") {
			return models.DecisionRejected
		}
		return models.DecisionApproved
	}

	if _, ok := pendingAliases[raw]; ok {
		return models.DecisionPending
	}
	// Unknown vocabulary without a decided marker stays pending rather than
	// inventing a decision.
	return models.DecisionPending
}

var legacyDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func legacyDecidedDate(row models.LegacyApprovalRow) *time.Time {
	if row.ApprovalDate == nil {
		return nil
	}
	raw := strings.TrimSpace(*row.ApprovalDate)
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil
	}
	for _, layout := range legacyDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	// Unparseable but present still counts as a decided marker.
	now := time.Time{}
	return &now
}

// Reconcile produces the merged ApprovalStatus for one document.
//
// canonical may be nil or partial; legacy may be nil (fetch failed or source
// disabled). The directory patches resolved approver names into whichever
// source wins, since both can carry stale names.
func (r *StatusReconciler) Reconcile(documentID string, canonical *models.ApprovalStatus, legacy []models.LegacyApprovalRow, directory *ApproverDirectory, rule models.AggregationRule) *models.ApprovalStatus {
	status := &models.ApprovalStatus{
		DocumentID: documentID,
		Rule:       rule,
	}
	if canonical != nil {
		status.TrackingID = canonical.TrackingID
		if canonical.Rule != "" {
			status.Rule = canonical.Rule
		}
	}

	legacyPending, legacyDecided := partitionLegacy(documentID, legacy, directory)

	// Canonical values win for the fields it actually set; the legacy
	// projection fills the gaps when the canonical source is absent or empty.
	if canonical != nil && len(canonical.PendingRequests) > 0 {
		status.PendingRequests = patchRequestNames(canonical.PendingRequests, directory)
	} else {
		status.PendingRequests = legacyPending
	}
	if canonical != nil && len(canonical.History) > 0 {
		status.History = patchHistoryNames(canonical.History, directory)
	} else {
		status.History = legacyDecided
	}

	// The legacy feed can race and briefly report a row on both sides.
	// History wins; a decided request is never pending again.
	decidedIDs := make(map[string]struct{}, len(status.History))
	for _, entry := range status.History {
		decidedIDs[entry.ID] = struct{}{}
	}
	pending := status.PendingRequests[:0:0]
	for _, request := range status.PendingRequests {
		if _, decided := decidedIDs[request.ID]; decided {
			r.logger.Debug("dropping double-reported pending request",
				zap.String("document_id", documentID),
				zap.String("request_id", request.ID))
			continue
		}
		pending = append(pending, request)
	}
	status.PendingRequests = pending

	status.LevelsCompleted = len(status.History)
	status.TotalLevels = totalLevels(status.PendingRequests, status.History, legacy)
	status.CurrentLevel = currentLevel(status.PendingRequests, status.History)
	status.Levels = rollupLevels(status.PendingRequests, status.History)

	switch {
	case len(status.PendingRequests) == 0 && len(status.History) > 0:
		status.FinalStatus = Aggregate(status.History, status.Rule)
	case len(status.PendingRequests) > 0:
		status.FinalStatus = models.WorkflowInProgress
	default:
		status.FinalStatus = models.WorkflowPending
	}

	status.CanRequestApproval = status.FinalStatus == models.WorkflowPending ||
		status.FinalStatus == models.WorkflowRejected

	if status.TrackingID == "" {
		for _, request := range status.PendingRequests {
			if request.TrackingID != "" {
				status.TrackingID = request.TrackingID
				break
			}
		}
	}

	return status
}

// partitionLegacy normalises raw rows into pending and decided projections.
// Cancelled rows are dead branches and are excluded from both sets.
func partitionLegacy(documentID string, rows []models.LegacyApprovalRow, directory *ApproverDirectory) ([]models.ApprovalRequest, []models.ApprovalHistoryEntry) {
	var pending []models.ApprovalRequest
	var decided []models.ApprovalHistoryEntry

	for _, row := range rows {
		if row.IsCancelled.Bool() {
			continue
		}

		name := directory.Resolve(row.ApproverID, row.ApproverName)
		level := row.SequenceLevel
		if level < 1 {
			level = 1
		}

		switch normalized := normalizeLegacyStatus(row); normalized {
		case models.DecisionPending:
			pending = append(pending, models.ApprovalRequest{
				ID:            row.RequestID,
				DocumentID:    documentID,
				ApproverID:    row.ApproverID,
				ApproverName:  name,
				SequenceLevel: level,
				Status:        models.DecisionPending,
				Comments:      row.Comments,
			})
		default:
			entry := models.ApprovalHistoryEntry{
				ID:              row.RequestID,
				DocumentID:      documentID,
				ApproverID:      row.ApproverID,
				ApproverName:    name,
				SequenceLevel:   level,
				Status:          normalized,
				Comments:        row.Comments,
				RejectionReason: row.RejectionReason,
			}
			if ts := legacyDecidedDate(row); ts != nil {
				entry.ActedAt = *ts
			}
			decided = append(decided, entry)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].SequenceLevel < pending[j].SequenceLevel
	})
	sort.SliceStable(decided, func(i, j int) bool {
		return decided[i].SequenceLevel < decided[j].SequenceLevel
	})
	return pending, decided
}

func patchRequestNames(requests []models.ApprovalRequest, directory *ApproverDirectory) []models.ApprovalRequest {
	patched := make([]models.ApprovalRequest, len(requests))
	for i, request := range requests {
		request.ApproverName = directory.Resolve(request.ApproverID, request.ApproverName)
		patched[i] = request
	}
	return patched
}

func patchHistoryNames(entries []models.ApprovalHistoryEntry, directory *ApproverDirectory) []models.ApprovalHistoryEntry {
	patched := make([]models.ApprovalHistoryEntry, len(entries))
	for i, entry := range entries {
		entry.ApproverName = directory.Resolve(entry.ApproverID, entry.ApproverName)
		patched[i] = entry
	}
	return patched
}

// totalLevels is the maximum observed sequence level across all sources,
// never less than 1.
func totalLevels(pending []models.ApprovalRequest, history []models.ApprovalHistoryEntry, legacy []models.LegacyApprovalRow) int {
	max := 1
	for _, request := range pending {
		if request.SequenceLevel > max {
			max = request.SequenceLevel
		}
	}
	for _, entry := range history {
		if entry.SequenceLevel > max {
			max = entry.SequenceLevel
		}
	}
	for _, row := range legacy {
		if row.SequenceLevel > max {
			max = row.SequenceLevel
		}
	}
	return max
}

// currentLevel is the lowest level with a pending entry, or the last decided
// level when nothing is pending.
func currentLevel(pending []models.ApprovalRequest, history []models.ApprovalHistoryEntry) int {
	current := 0
	for _, request := range pending {
		if current == 0 || request.SequenceLevel < current {
			current = request.SequenceLevel
		}
	}
	if current > 0 {
		return current
	}
	for _, entry := range history {
		if entry.SequenceLevel > current {
			current = entry.SequenceLevel
		}
	}
	if current == 0 {
		current = 1
	}
	return current
}

// rollupLevels derives the per-level projection. A level with any pending
// slot is PENDING; otherwise one rejection rejects the level.
func rollupLevels(pending []models.ApprovalRequest, history []models.ApprovalHistoryEntry) []models.ApprovalLevel {
	byLevel := map[int]*models.ApprovalLevel{}
	levels := []int{}

	touch := func(level int) *models.ApprovalLevel {
		if rollup, ok := byLevel[level]; ok {
			return rollup
		}
		rollup := &models.ApprovalLevel{SequenceLevel: level, Status: models.DecisionApproved}
		byLevel[level] = rollup
		levels = append(levels, level)
		return rollup
	}

	for _, entry := range history {
		rollup := touch(entry.SequenceLevel)
		if entry.Status == models.DecisionRejected && rollup.Status != models.DecisionPending {
			rollup.Status = models.DecisionRejected
		}
		if rollup.ActedAt == nil || entry.ActedAt.After(*rollup.ActedAt) {
			actedAt := entry.ActedAt
			rollup.ActedAt = &actedAt
			rollup.ActedBy = entry.ApproverName
			rollup.Comments = entry.Comments
		}
	}
	for _, request := range pending {
		rollup := touch(request.SequenceLevel)
		rollup.Status = models.DecisionPending
		rollup.ActedBy = ""
		rollup.ActedAt = nil
		rollup.Comments = ""
	}

	sort.Ints(levels)
	result := make([]models.ApprovalLevel, 0, len(levels))
	for _, level := range levels {
		result = append(result, *byLevel[level])
	}
	return result
}
