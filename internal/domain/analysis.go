package domain

import (
	"context"
)

// Adapter names one of the five scoring adapters.
type Adapter string

const (
	AdapterTransaction Adapter = "transaction"
	AdapterDocument    Adapter = "document"
	AdapterPattern     Adapter = "pattern"
	AdapterIdentity    Adapter = "identity"
	AdapterNetwork     Adapter = "network"
)

// Adapters lists every adapter in finding-priority order.
var Adapters = []Adapter{AdapterPattern, AdapterIdentity, AdapterNetwork, AdapterTransaction, AdapterDocument}

// Priority ranks adapters for finding tie-breaks. Lower ranks first.
func (a Adapter) Priority() int {
	for i, name := range Adapters {
		if name == a {
			return i
		}
	}
	return len(Adapters)
}

// Valid reports whether a is a known adapter.
func (a Adapter) Valid() bool {
	return a.Priority() < len(Adapters)
}

// AnalysisStatus is the outcome of one adapter invocation.
type AnalysisStatus string

const (
	StatusOK       AnalysisStatus = "ok"
	StatusFailed   AnalysisStatus = "failed"
	StatusTimedOut AnalysisStatus = "timed_out"
	StatusSkipped  AnalysisStatus = "skipped"
)

// Severity grades a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical is highest. Unknown values rank as low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Finding types produced by the engine itself rather than by an adapter.
const (
	FindingMissingInput = "missing_input"
)

// Finding is one structured observation from an adapter.
type Finding struct {
	Source      Adapter  `json:"source"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// AnalysisResult is one adapter's output for one run.
type AnalysisResult struct {
	Adapter      Adapter        `json:"adapter"`
	Contribution float64        `json:"contribution"`
	Findings     []Finding      `json:"findings,omitempty"`
	ElapsedMs    int64          `json:"elapsedMs"`
	Status       AnalysisStatus `json:"status"`
	Error        string         `json:"error,omitempty"`

	// Warnings are data-quality notes, such as a clamped contribution.
	Warnings []string `json:"warnings,omitempty"`
}

// ScoreInput is what an adapter sees: the transaction plus optional inputs.
type ScoreInput struct {
	Transaction *Transaction
	Documents   []Document
	Beneficiary *Beneficiary

	// EntityID is the graph node for network analysis.
	EntityID string

	// SkipHistory asks adapters not to call history backends.
	SkipHistory bool
}

// Missing names the optional input adapter a needs that is absent, or "" when a can run.
func (in *ScoreInput) Missing(a Adapter) string {
	switch a {
	case AdapterDocument:
		if len(in.Documents) == 0 {
			return "documents"
		}
	case AdapterIdentity:
		if in.Beneficiary == nil {
			return "beneficiary"
		}
	case AdapterNetwork:
		if in.NetworkEntity() == "" {
			return "entity id"
		}
	}
	return ""
}

// NetworkEntity returns the graph entity for the run: the explicit entity id,
// else the beneficiary record, else the transaction's beneficiary reference.
func (in *ScoreInput) NetworkEntity() string {
	if in.EntityID != "" {
		return in.EntityID
	}
	if in.Beneficiary != nil && in.Beneficiary.ID != "" {
		return in.Beneficiary.ID
	}
	if in.Transaction != nil {
		return in.Transaction.BeneficiaryID
	}
	return ""
}

// Score is an adapter's raw answer before the orchestrator normalizes it.
type Score struct {
	Contribution float64
	Findings     []Finding
}

// Scorer is implemented by every scoring adapter.
// Analyze must return promptly once ctx is done.
type Scorer interface {
	Name() Adapter
	Analyze(ctx context.Context, in *ScoreInput) (Score, error)
}

// DocumentInspector inspects one document (OCR/vision backend).
type DocumentInspector interface {
	Inspect(ctx context.Context, doc Document) (DocumentInspection, error)
}

// DocumentInspection is the inspector's verdict on one document.
type DocumentInspection struct {
	DocumentID        string
	AuthenticityScore float64
	TamperingDetected bool
	Warnings          []string
}

// IdentityRegistry verifies a beneficiary against identity sources.
type IdentityRegistry interface {
	Verify(ctx context.Context, b *Beneficiary) ([]IdentityCheck, error)
}

// IdentityCheck is one verification step.
type IdentityCheck struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"` // severity when the check fails
	Detail   string   `json:"detail,omitempty"`
}

// GraphClient returns an entity's neighborhood in the claims graph.
type GraphClient interface {
	Neighborhood(ctx context.Context, entityID string) (*Neighborhood, error)
}

// HistoryProvider returns recent claim statistics for a beneficiary.
//
// ClaimCount returns the claims recorded for the beneficiary over the last
// 30 days. It fails with ErrNotFound when no counter backend is available.
type HistoryProvider interface {
	BeneficiaryStats(ctx context.Context, beneficiaryID string) (*BeneficiaryStats, error)
	ClaimCount(ctx context.Context, beneficiaryID string) (int64, error)
}

// Policy is a learned fraud model consumed as a scoring function.
type Policy interface {
	FraudProbability(ctx context.Context, tx *Transaction) (float64, error)
}
