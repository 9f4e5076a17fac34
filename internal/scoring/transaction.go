// Package scoring implements the five scoring adapters.
//
// Each adapter turns one kind of evidence into a risk contribution in [0,1]
// plus findings. Adapters reach external systems only through the
// collaborator interfaces in package domain.
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Transaction heuristics.
const (
	defaultAverageAmount = 100.0
	spikeFactor          = 5.0
	highFrequencyClaims  = 10
	riskyProvider        = 0.5
	newBeneficiaryMonths = 3
	newBeneficiaryAmount = 500.0
	amountScale          = 5000.0
)

// TransactionScorer scores the transaction itself: amount anomalies,
// claim frequency and provider rating.
type TransactionScorer struct {
	profiler *Profiler
	policy   domain.Policy
}

// NewTransactionScorer creates the transaction adapter. profiler and policy
// are optional.
func NewTransactionScorer(profiler *Profiler, policy domain.Policy) *TransactionScorer {
	return &TransactionScorer{profiler: profiler, policy: policy}
}

// Name implements domain.Scorer.
func (s *TransactionScorer) Name() domain.Adapter { return domain.AdapterTransaction }

// Analyze implements domain.Scorer.
func (s *TransactionScorer) Analyze(ctx context.Context, in *domain.ScoreInput) (domain.Score, error) {
	tx := in.Transaction
	if tx == nil {
		return domain.Score{}, fmt.Errorf("transaction is required")
	}

	prof := s.profiler.Resolve(ctx, in)
	if err := ctx.Err(); err != nil {
		return domain.Score{}, err
	}

	findings := DetectAnomalies(tx, prof)
	anomaly := math.Min(float64(len(findings))*0.25, 1)
	amountFactor := math.Min(tx.Amount/amountScale, 1)
	contribution := 0.5*anomaly + 0.3*amountFactor + 0.2*tx.ProviderRiskScore

	if s.policy != nil {
		p, err := s.policy.FraudProbability(ctx, tx)
		if err != nil {
			return domain.Score{}, fmt.Errorf("policy: %w", err)
		}
		contribution = p
	}

	return domain.Score{Contribution: contribution, Findings: findings}, nil
}

// DetectAnomalies applies the transaction heuristics against prof. An
// unknown average is taken as the default of 100; unknown counters raise
// nothing.
func DetectAnomalies(tx *domain.Transaction, prof Profile) []domain.Finding {
	var findings []domain.Finding

	avg := prof.AverageAmount
	if avg <= 0 {
		avg = defaultAverageAmount
	}
	if tx.Amount > avg*spikeFactor {
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterTransaction,
			Type:        "amount_spike",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("amount %.2f is %.1fx the average %.2f", tx.Amount, tx.Amount/avg, avg),
		})
	}
	if prof.Claims30d > highFrequencyClaims {
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterTransaction,
			Type:        "high_frequency",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("%d claims in the last 30 days", prof.Claims30d),
		})
	}
	if tx.ProviderRiskScore > riskyProvider {
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterTransaction,
			Type:        "risky_provider",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("provider %s has risk score %.2f", tx.ProviderID, tx.ProviderRiskScore),
		})
	}
	if prof.TenureMonths != Unknown && prof.TenureMonths < newBeneficiaryMonths && tx.Amount > newBeneficiaryAmount {
		findings = append(findings, domain.Finding{
			Source:      domain.AdapterTransaction,
			Type:        "new_beneficiary_high_amount",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("beneficiary enrolled %d months ago claims %.2f", prof.TenureMonths, tx.Amount),
		})
	}
	return findings
}
