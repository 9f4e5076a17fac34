package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// authenticityConcern is the authenticity below which a document is flagged.
const authenticityConcern = 0.7

// ErrNoInspectionData is returned when a document carries no upstream
// inspection result.
var ErrNoInspectionData = errors.New("document has no inspection data")

// DocumentScorer scores supporting documents through an inspector. The
// weakest document sets the contribution.
type DocumentScorer struct {
	inspector domain.DocumentInspector
}

// NewDocumentScorer creates the document adapter.
func NewDocumentScorer(inspector domain.DocumentInspector) *DocumentScorer {
	return &DocumentScorer{inspector: inspector}
}

// Name implements domain.Scorer.
func (s *DocumentScorer) Name() domain.Adapter { return domain.AdapterDocument }

// Analyze implements domain.Scorer. Documents that fail inspection become
// findings; the adapter fails only when none could be inspected.
func (s *DocumentScorer) Analyze(ctx context.Context, in *domain.ScoreInput) (domain.Score, error) {
	if len(in.Documents) == 0 {
		return domain.Score{}, fmt.Errorf("documents are required")
	}

	authenticity := 1.0
	inspected := 0
	var findings []domain.Finding
	var lastErr error

	for _, doc := range in.Documents {
		if err := ctx.Err(); err != nil {
			return domain.Score{}, err
		}

		res, err := s.inspector.Inspect(ctx, doc)
		if err != nil {
			lastErr = err
			findings = append(findings, domain.Finding{
				Source:      domain.AdapterDocument,
				Type:        "inspection_failed",
				Severity:    domain.SeverityLow,
				Description: fmt.Sprintf("document %s: %v", doc.ID, err),
			})
			continue
		}
		inspected++
		authenticity = math.Min(authenticity, res.AuthenticityScore)

		if res.TamperingDetected {
			findings = append(findings, domain.Finding{
				Source:      domain.AdapterDocument,
				Type:        "document_tampering",
				Severity:    domain.SeverityHigh,
				Description: fmt.Sprintf("tampering detected on %s document %s", doc.Type, doc.ID),
			})
		}
		if res.AuthenticityScore < authenticityConcern {
			findings = append(findings, domain.Finding{
				Source:      domain.AdapterDocument,
				Type:        "authenticity_concern",
				Severity:    domain.SeverityHigh,
				Description: fmt.Sprintf("document %s authenticity %.0f%%", doc.ID, res.AuthenticityScore*100),
			})
		}
		for _, w := range res.Warnings {
			findings = append(findings, domain.Finding{
				Source:      domain.AdapterDocument,
				Type:        "document_warning",
				Severity:    domain.SeverityMedium,
				Description: fmt.Sprintf("document %s: %s", doc.ID, w),
			})
		}
	}

	if inspected == 0 {
		return domain.Score{}, fmt.Errorf("no document could be inspected: %w", lastErr)
	}
	return domain.Score{Contribution: 1 - authenticity, Findings: findings}, nil
}

// MetadataInspector reads inspection results already attached to documents
// by the upstream OCR pipeline.
type MetadataInspector struct{}

// Inspect implements domain.DocumentInspector.
func (MetadataInspector) Inspect(ctx context.Context, doc domain.Document) (domain.DocumentInspection, error) {
	if err := ctx.Err(); err != nil {
		return domain.DocumentInspection{}, err
	}
	if doc.AuthenticityScore == nil {
		return domain.DocumentInspection{}, ErrNoInspectionData
	}
	score := *doc.AuthenticityScore
	if score < 0 || score > 1 || math.IsNaN(score) {
		return domain.DocumentInspection{}, fmt.Errorf("authenticity score %v out of range", score)
	}
	return domain.DocumentInspection{
		DocumentID:        doc.ID,
		AuthenticityScore: score,
		TamperingDetected: doc.TamperingDetected,
		Warnings:          doc.Warnings,
	}, nil
}
