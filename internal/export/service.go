package export

import (
	"fmt"
	"time"
)

// Service turns assembled family summaries into downloadable PDFs. The caller
// assembles the Summary — member names resolved, policies loaded — so this
// layer only renders and prints.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// ExportSummary renders the family summary and prints it to PDF.
func (s *Service) ExportSummary(summary Summary) (*Result, error) {
	if summary.GeneratedAt.IsZero() {
		summary.GeneratedAt = time.Now()
	}

	html, err := RenderSummaryHTML(summary)
	if err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}

	return exportPDF(html, summary.FamilyName+" summary")
}
