package domain

import (
	"slices"
	"strings"
	"time"
)

// EngineVersion is stamped on every decision record.
const EngineVersion = "kestrel-1.0"

// RiskLevel is the discrete bucket derived from the fraud probability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels: critical is highest.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// ParseRiskLevel accepts any casing of the four level names.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for _, l := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if strings.EqualFold(s, string(l)) {
			return l, true
		}
	}
	return "", false
}

// Action is the decision taken on a transaction.
type Action string

const (
	ActionPass  Action = "PASS"
	ActionFlag  Action = "FLAG"
	ActionBlock Action = "BLOCK"
)

// Flagged reports whether the action holds the transaction for review.
func (a Action) Flagged() bool {
	return a == ActionFlag || a == ActionBlock
}

// CostMatrix holds the rewards and penalties of each decision outcome.
type CostMatrix struct {
	TruePositive  float64 `json:"truePositive" yaml:"true_positive" env:"TP"`
	TrueNegative  float64 `json:"trueNegative" yaml:"true_negative" env:"TN"`
	FalsePositive float64 `json:"falsePositive" yaml:"false_positive" env:"FP"`
	FalseNegative float64 `json:"falseNegative" yaml:"false_negative" env:"FN"`
}

// DefaultCostMatrix is the recall-biased matrix: a missed fraud costs ten false alarms.
func DefaultCostMatrix() CostMatrix {
	return CostMatrix{
		TruePositive:  10,
		TrueNegative:  1,
		FalsePositive: -5,
		FalseNegative: -50,
	}
}

// Routing tells the case system where a decision goes next.
type Routing struct {
	Action       string `json:"action"` // block_immediate, flag_review, auto_approve
	Queue        string `json:"queue,omitempty"`
	SLAHours     int    `json:"slaHours,omitempty"`
	AutoEscalate bool   `json:"autoEscalate,omitempty"`
}

// ComponentScore is one adapter's share in a decision.
type ComponentScore struct {
	Adapter      Adapter        `json:"adapter"`
	Contribution float64        `json:"contribution"`
	Weight       float64        `json:"weight"` // effective weight after redistribution
	Status       AnalysisStatus `json:"status"`
	ElapsedMs    int64          `json:"elapsedMs"`
}

// DecisionRecord is the audited result of one run. It is built once at the
// end of the decide phase and never modified; consumers receive clones.
type DecisionRecord struct {
	ID            string       `json:"id"`
	TransactionID string       `json:"transactionId"`
	CaseID        string       `json:"caseId"`
	BeneficiaryID string       `json:"beneficiaryId,omitempty"`
	Workflow      WorkflowType `json:"workflow"`

	Probability float64   `json:"probability"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`

	Components  []ComponentScore `json:"components"`
	KeyFindings []Finding        `json:"keyFindings"`
	Warnings    []string         `json:"warnings,omitempty"`

	CostMatrix           CostMatrix `json:"costMatrix"`
	Threshold            float64    `json:"threshold"`
	ExpectedReward       float64    `json:"expectedReward"`
	AlternativeReward    float64    `json:"alternativeReward"`
	Routing              Routing    `json:"routing"`
	RequiresFullAnalysis bool       `json:"requiresFullAnalysis,omitempty"`

	ConfigVersion int64  `json:"configVersion"`
	EngineVersion string `json:"engineVersion"`

	StartedAt time.Time `json:"startedAt"`
	DecidedAt time.Time `json:"decidedAt"`
	TotalMs   int64     `json:"totalMs"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *DecisionRecord) Clone() DecisionRecord {
	c := *r
	c.Components = slices.Clone(r.Components)
	c.KeyFindings = slices.Clone(r.KeyFindings)
	c.Warnings = slices.Clone(r.Warnings)
	return c
}

// Component returns the score of adapter a, if it took part in the run.
func (r *DecisionRecord) Component(a Adapter) (ComponentScore, bool) {
	for _, c := range r.Components {
		if c.Adapter == a {
			return c, true
		}
	}
	return ComponentScore{}, false
}

// HasFinding reports whether any key finding has the given type.
func (r *DecisionRecord) HasFinding(findingType string) bool {
	for _, f := range r.KeyFindings {
		if f.Type == findingType {
			return true
		}
	}
	return false
}
