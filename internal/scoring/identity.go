package scoring

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// IdentityScorer verifies the beneficiary through an identity registry.
// The contribution is the share of checks that did not pass; failed checks
// below high severity still produce findings but count as passed.
type IdentityScorer struct {
	registry domain.IdentityRegistry
}

// NewIdentityScorer creates the identity adapter.
func NewIdentityScorer(registry domain.IdentityRegistry) *IdentityScorer {
	return &IdentityScorer{registry: registry}
}

// Name implements domain.Scorer.
func (s *IdentityScorer) Name() domain.Adapter { return domain.AdapterIdentity }

// Analyze implements domain.Scorer.
func (s *IdentityScorer) Analyze(ctx context.Context, in *domain.ScoreInput) (domain.Score, error) {
	if in.Beneficiary == nil {
		return domain.Score{}, fmt.Errorf("beneficiary is required")
	}

	checks, err := s.registry.Verify(ctx, in.Beneficiary)
	if err != nil {
		return domain.Score{}, fmt.Errorf("identity registry: %w", err)
	}
	if len(checks) == 0 {
		return domain.Score{}, fmt.Errorf("identity registry returned no checks")
	}

	passed := 0
	var findings []domain.Finding
	for _, c := range checks {
		if c.Passed {
			passed++
			continue
		}
		if c.Severity.Rank() < domain.SeverityHigh.Rank() {
			passed++
		}
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterIdentity,
			Type:        c.Name,
			Severity:    c.Severity,
			Description: c.Detail,
		})
	}

	verification := float64(passed) / float64(len(checks))
	return domain.Score{Contribution: 1 - verification, Findings: findings}, nil
}
