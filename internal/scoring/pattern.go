package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

// MinPatternStrength is the share of indicators a pattern needs to count.
const MinPatternStrength = 0.5

// Velocity classes by claims in the last 30 days.
const (
	VelocityNormal   = "normal"
	VelocityElevated = "elevated"
	VelocityHigh     = "high"
	VelocityExtreme  = "extreme"
)

// PatternScorer matches the transaction against the pattern library.
type PatternScorer struct {
	engine   *patterns.Engine
	profiler *Profiler
}

// NewPatternScorer creates the pattern adapter over a loaded engine.
// profiler is optional and should be the one the transaction adapter uses.
func NewPatternScorer(engine *patterns.Engine, profiler *Profiler) *PatternScorer {
	return &PatternScorer{engine: engine, profiler: profiler}
}

// Name implements domain.Scorer.
func (s *PatternScorer) Name() domain.Adapter { return domain.AdapterPattern }

// Analyze implements domain.Scorer.
func (s *PatternScorer) Analyze(ctx context.Context, in *domain.ScoreInput) (domain.Score, error) {
	tx := in.Transaction
	if tx == nil {
		return domain.Score{}, fmt.Errorf("transaction is required")
	}

	prof := s.profiler.Resolve(ctx, in)
	matches, err := s.engine.Evaluate(ctx, PatternInput(tx, prof, len(in.Documents)))
	if err != nil {
		return domain.Score{}, err
	}

	var score float64
	var findings []domain.Finding
	for _, m := range matches {
		if m.Strength < MinPatternStrength {
			continue
		}
		score += m.RiskWeight * m.Strength

		sev := domain.SeverityMedium
		if m.Strength > 0.7 {
			sev = domain.SeverityHigh
		}
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterPattern,
			Type:        m.PatternID,
			Severity:    sev,
			Description: fmt.Sprintf("%s: %d/%d indicators matched", m.Name, m.Matched, m.Total),
		})
	}

	switch class := VelocityClass(prof.Claims30d); class {
	case VelocityHigh, VelocityExtreme:
		sev := domain.SeverityMedium
		if class == VelocityExtreme {
			sev = domain.SeverityHigh
		}
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterPattern,
			Type:        "velocity_" + class,
			Severity:    sev,
			Description: fmt.Sprintf("claim velocity %s: %d claims in 30 days", class, prof.Claims30d),
		})
	}

	return domain.Score{Contribution: math.Min(score, 1), Findings: findings}, nil
}

// PatternInput builds the pattern engine's view of a transaction scored
// against prof. Hour and Weekday are Unknown when the timestamp is.
func PatternInput(tx *domain.Transaction, prof Profile, documents int) patterns.Input {
	in := patterns.Input{
		Amount:        tx.Amount,
		AverageAmount: prof.AverageAmount,
		Total30d:      tx.TotalLast30d,
		Claims30d:     prof.Claims30d,
		DaysSinceLast: prof.DaysSinceLast,
		TenureMonths:  prof.TenureMonths,
		ProviderRisk:  tx.ProviderRiskScore,
		Documents:     documents,
		Hour:          Unknown,
		Weekday:       Unknown,
		TxType:        tx.Type,
	}
	if !tx.Timestamp.IsZero() {
		in.Hour = tx.Timestamp.Hour()
		in.Weekday = int(tx.Timestamp.Weekday())
	}
	return in
}

// VelocityClass buckets a 30-day claim count. Unknown counts as normal.
func VelocityClass(claims int) string {
	switch {
	case claims <= 2:
		return VelocityNormal
	case claims <= 5:
		return VelocityElevated
	case claims <= 10:
		return VelocityHigh
	default:
		return VelocityExtreme
	}
}
