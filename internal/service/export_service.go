package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexdoc/dms-api/internal/models"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
	"github.com/nexdoc/dms-api/pkg/export"
)

// ExportResult bundles rendered bytes with response metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders a document's approval history as CSV or PDF.
type ExportService struct {
	csv *export.CSVExporter
	pdf *export.PDFExporter
}

// NewExportService builds the exporter pair.
func NewExportService() *ExportService {
	return &ExportService{csv: export.NewCSVExporter(), pdf: export.NewPDFExporter()}
}

var historyHeaders = []string{"Level", "Approver", "Decision", "Acted At", "Comments", "Rejection Reason"}

// Render produces the export for the requested format.
func (s *ExportService) Render(documentID, format string, history []models.ApprovalHistoryEntry) (*ExportResult, error) {
	dataset := export.Dataset{Headers: historyHeaders}
	for _, entry := range history {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Level":            fmt.Sprintf("%d", entry.SequenceLevel),
			"Approver":         entry.ApproverName,
			"Decision":         string(entry.Status),
			"Acted At":         entry.ActedAt.Format(time.RFC3339),
			"Comments":         entry.Comments,
			"Rejection Reason": entry.RejectionReason,
		})
	}

	switch strings.ToLower(format) {
	case "", "csv":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("approval-history-%s.csv", documentID),
		}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, fmt.Sprintf("Approval History %s", documentID))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("approval-history-%s.pdf", documentID),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}
