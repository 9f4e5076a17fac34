// Package costmodel turns an asymmetric cost matrix into decision policy.
package costmodel

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Risk level cutpoints. They favor recall.
const (
	CriticalCutpoint = 0.7
	HighCutpoint     = 0.4
	MediumCutpoint   = 0.2
)

// Model is a validated cost matrix and the policy derived from it.
// A Model is immutable and safe for concurrent use.
type Model struct {
	matrix    domain.CostMatrix
	threshold float64
}

// New validates m and derives its decision threshold.
// Invalid matrices are rejected, never corrected.
func New(m domain.CostMatrix) (*Model, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	fp := math.Abs(m.FalsePositive)
	fn := math.Abs(m.FalseNegative)
	return &Model{
		matrix:    m,
		threshold: fp / (fp + fn),
	}, nil
}

// Default returns the model of domain.DefaultCostMatrix.
func Default() *Model {
	m, err := New(domain.DefaultCostMatrix())
	if err != nil {
		panic(err)
	}
	return m
}

// Validate checks the matrix invariants. Errors wrap domain.ErrConfiguration.
func Validate(m domain.CostMatrix) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"true_positive", m.TruePositive},
		{"true_negative", m.TrueNegative},
		{"false_positive", m.FalsePositive},
		{"false_negative", m.FalseNegative},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return domain.Configurationf("cost matrix %s must be finite, got %v", f.name, f.value)
		}
	}
	if m.TruePositive < 0 {
		return domain.Configurationf("cost matrix true_positive must be >= 0, got %v", m.TruePositive)
	}
	if m.TrueNegative < 0 {
		return domain.Configurationf("cost matrix true_negative must be >= 0, got %v", m.TrueNegative)
	}
	if m.FalsePositive >= 0 {
		return domain.Configurationf("cost matrix false_positive must be negative, got %v", m.FalsePositive)
	}
	if m.FalseNegative >= m.FalsePositive {
		return domain.Configurationf("cost matrix false_negative (%v) must be more negative than false_positive (%v)",
			m.FalseNegative, m.FalsePositive)
	}
	return nil
}

// Matrix returns a copy of the underlying matrix.
func (m *Model) Matrix() domain.CostMatrix {
	return m.matrix
}

// Threshold is the probability above which flagging has the higher expected
// reward: |FP| / (|FP| + |FN|).
func (m *Model) Threshold() float64 {
	return m.threshold
}

// ClassifyRisk buckets a fraud probability.
func (m *Model) ClassifyRisk(p float64) domain.RiskLevel {
	return ClassifyRisk(p)
}

// ClassifyRisk buckets a fraud probability using the fixed cutpoints.
func ClassifyRisk(p float64) domain.RiskLevel {
	switch {
	case p >= CriticalCutpoint:
		return domain.RiskCritical
	case p >= HighCutpoint:
		return domain.RiskHigh
	case p >= MediumCutpoint:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// ExpectedReward is the expected payoff of flagging (or not) a transaction
// with fraud probability p.
func (m *Model) ExpectedReward(p float64, flagged bool) float64 {
	if flagged {
		return p*m.matrix.TruePositive + (1-p)*m.matrix.FalsePositive
	}
	return p*m.matrix.FalseNegative + (1-p)*m.matrix.TrueNegative
}

// ShouldFlag reports whether p reaches the decision threshold.
func (m *Model) ShouldFlag(p float64) bool {
	return p >= m.threshold
}

// Decide maps a probability to an action. Critical risk always blocks.
func (m *Model) Decide(p float64) domain.Action {
	switch {
	case ClassifyRisk(p) == domain.RiskCritical:
		return domain.ActionBlock
	case m.ShouldFlag(p):
		return domain.ActionFlag
	default:
		return domain.ActionPass
	}
}

var routes = map[domain.RiskLevel]domain.Routing{
	domain.RiskCritical: {Action: "block_immediate", Queue: "fraud_investigation_urgent", SLAHours: 2, AutoEscalate: true},
	domain.RiskHigh:     {Action: "flag_review", Queue: "fraud_investigation", SLAHours: 24},
	domain.RiskMedium:   {Action: "flag_review", Queue: "manual_review", SLAHours: 72},
	domain.RiskLow:      {Action: "auto_approve"},
}

// Route returns where a decision of the given risk level and action goes.
// A passed transaction is auto-approved whatever its level.
func Route(level domain.RiskLevel, action domain.Action) domain.Routing {
	if action == domain.ActionPass {
		return routes[domain.RiskLow]
	}
	r, ok := routes[level]
	if !ok || r.Queue == "" {
		// Flagged below medium risk still needs a reviewer.
		return routes[domain.RiskMedium]
	}
	return r
}
