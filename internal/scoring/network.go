package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Network risk components.
const (
	communityHighRate     = 0.3
	communityMediumRate   = 0.1
	communityHighRisk     = 0.5
	communityMediumRisk   = 0.3
	communityLowRisk      = 0.1
	ringWeight            = 0.3
	influentialCentrality = 0.7
	influentialBonus      = 0.1
	sharedProviderLimit   = 3
	sharedProviderBonus   = 0.1
)

// NetworkScorer scores the entity's neighborhood in the claims graph.
type NetworkScorer struct {
	graph domain.GraphClient
}

// NewNetworkScorer creates the network adapter.
func NewNetworkScorer(graph domain.GraphClient) *NetworkScorer {
	return &NetworkScorer{graph: graph}
}

// Name implements domain.Scorer.
func (s *NetworkScorer) Name() domain.Adapter { return domain.AdapterNetwork }

// Analyze implements domain.Scorer.
func (s *NetworkScorer) Analyze(ctx context.Context, in *domain.ScoreInput) (domain.Score, error) {
	entity := in.NetworkEntity()
	if entity == "" {
		return domain.Score{}, fmt.Errorf("entity id is required")
	}

	n, err := s.graph.Neighborhood(ctx, entity)
	if err != nil {
		return domain.Score{}, fmt.Errorf("graph lookup: %w", err)
	}
	if n == nil {
		return domain.Score{}, nil
	}

	score, findings := NetworkRisk(n)
	return domain.Score{Contribution: score, Findings: findings}, nil
}

// NetworkRisk scores a neighborhood. An isolated entity scores 0.
func NetworkRisk(n *domain.Neighborhood) (float64, []domain.Finding) {
	var score float64
	var findings []domain.Finding

	if n.Neighbors > 0 {
		rate := float64(n.FlaggedNeighbors) / float64(n.Neighbors)
		switch {
		case rate >= communityHighRate:
			score += communityHighRisk
			findings = append(findings, domain.Finding{
				Source:      domain.AdapterNetwork,
				Type:        "high_risk_community",
				Severity:    domain.SeverityHigh,
				Description: fmt.Sprintf("%d of %d connected beneficiaries were flagged", n.FlaggedNeighbors, n.Neighbors),
			})
		case rate >= communityMediumRate:
			score += communityMediumRisk
			findings = append(findings, domain.Finding{
				Source:      domain.AdapterNetwork,
				Type:        "suspicious_community",
				Severity:    domain.SeverityMedium,
				Description: fmt.Sprintf("%d of %d connected beneficiaries were flagged", n.FlaggedNeighbors, n.Neighbors),
			})
		default:
			score += communityLowRisk
		}
	}

	var ringConfidence float64
	for _, ring := range n.Rings {
		ringConfidence = math.Max(ringConfidence, ring.Confidence)
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterNetwork,
			Type:        "fraud_ring",
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("member of suspected ring %s (%d entities, confidence %.2f)", ring.ID, ring.Size, ring.Confidence),
		})
	}
	score += ringConfidence * ringWeight

	if n.Centrality >= influentialCentrality {
		score += influentialBonus
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterNetwork,
			Type:        "influential_node",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("centrality %.2f in the claims graph", n.Centrality),
		})
	}

	if n.SharedProviders > sharedProviderLimit {
		score += sharedProviderBonus
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterNetwork,
			Type:        "shared_providers",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("shares %d providers with other beneficiaries", n.SharedProviders),
		})
	}

	return math.Min(score, 1), findings
}
