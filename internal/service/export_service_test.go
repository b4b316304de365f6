package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdoc/dms-api/internal/models"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
)

func exportHistory() []models.ApprovalHistoryEntry {
	actedAt, _ := time.Parse(time.RFC3339, "2026-02-10T09:30:00Z")
	return []models.ApprovalHistoryEntry{
		{
			ID:            "r1",
			ApproverName:  "Dana Lim",
			SequenceLevel: 1,
			Status:        models.DecisionApproved,
			Comments:      "looks good",
			ActedAt:       actedAt,
		},
		{
			ID:              "r2",
			ApproverName:    "Budi Santoso",
			SequenceLevel:   2,
			Status:          models.DecisionRejected,
			RejectionReason: "missing appendix",
			ActedAt:         actedAt.Add(time.Hour),
		},
	}
}

func TestExportCSV(t *testing.T) {
	svc := NewExportService()

	result, err := svc.Render("doc-1", "csv", exportHistory())
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "approval-history-doc-1.csv", result.Filename)

	body := string(result.Content)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Level,Approver,Decision,Acted At,Comments,Rejection Reason", lines[0])
	assert.Contains(t, lines[1], "Dana Lim")
	assert.Contains(t, lines[1], "APPROVED")
	assert.Contains(t, lines[2], "missing appendix")
}

func TestExportDefaultsToCSV(t *testing.T) {
	svc := NewExportService()

	result, err := svc.Render("doc-1", "", exportHistory())
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
}

func TestExportPDF(t *testing.T) {
	svc := NewExportService()

	result, err := svc.Render("doc-1", "pdf", exportHistory())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, "approval-history-doc-1.pdf", result.Filename)
	assert.True(t, strings.HasPrefix(string(result.Content), "%PDF"))
}

func TestExportUnknownFormat(t *testing.T) {
	svc := NewExportService()

	_, err := svc.Render("doc-1", "xlsx", exportHistory())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
