package domain

import (
	"context"
	"time"
)

// WorkflowType selects how much analysis a run performs.
type WorkflowType string

const (
	WorkflowQuick         WorkflowType = "quick"
	WorkflowStandard      WorkflowType = "standard"
	WorkflowInvestigation WorkflowType = "investigation"
	WorkflowBatch         WorkflowType = "batch"
)

// Valid reports whether w is a known workflow.
func (w WorkflowType) Valid() bool {
	switch w {
	case WorkflowQuick, WorkflowStandard, WorkflowInvestigation, WorkflowBatch:
		return true
	}
	return false
}

// Phase is a state of the orchestration state machine.
type Phase string

const (
	PhaseIntake  Phase = "intake"
	PhaseAnalyze Phase = "analyze"
	PhaseDecide  Phase = "decide"
	PhaseExplain Phase = "explain"
	PhaseDone    Phase = "done"
	PhaseError   Phase = "error"
)

// Audience selects the framing of an explanation.
type Audience string

const (
	AudienceAnalyst     Audience = "analyst"
	AudienceManager     Audience = "manager"
	AudienceBeneficiary Audience = "beneficiary"
)

// Valid reports whether a is a known audience.
func (a Audience) Valid() bool {
	switch a {
	case AudienceAnalyst, AudienceManager, AudienceBeneficiary:
		return true
	}
	return false
}

// Request is the input of a single-transaction run.
type Request struct {
	Transaction *Transaction `json:"transaction"`
	Documents   []Document   `json:"documents,omitempty"`
	Beneficiary *Beneficiary `json:"beneficiary,omitempty"`
	EntityID    string       `json:"entityId,omitempty"`
	Workflow    WorkflowType `json:"workflow,omitempty"`
	Audience    Audience     `json:"audience,omitempty"`
	CaseID      string       `json:"caseId,omitempty"`
}

// Decision is what ProcessTransaction returns: the audited record plus the
// downstream artifacts built from it.
type Decision struct {
	Record      DecisionRecord       `json:"record"`
	Explanation *Explanation         `json:"explanation,omitempty"`
	Report      *InvestigationReport `json:"report,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// Recommendation is one suggested follow-up.
type Recommendation struct {
	Priority string `json:"priority"` // urgent, high, medium, low
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

// Explanation is the audience-adapted account of a decision.
type Explanation struct {
	Audience        Audience         `json:"audience"`
	Summary         string           `json:"summary"`
	Text            string           `json:"text"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Fallback        bool             `json:"fallback,omitempty"`
}

// ReportInput is the accumulated state of an investigation run.
type ReportInput struct {
	Record   DecisionRecord
	Analysis []AnalysisResult
	Phases   []PhaseTiming
}

// PhaseTiming records how long a phase ran.
type PhaseTiming struct {
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"startedAt"`
	ElapsedMs int64     `json:"elapsedMs"`
	Error     string    `json:"error,omitempty"`
}

// ReportSection is a titled block of an investigation report.
type ReportSection struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// InvestigationReport is produced by the investigation workflow.
type InvestigationReport struct {
	CaseID          string           `json:"caseId"`
	TransactionID   string           `json:"transactionId"`
	GeneratedAt     time.Time        `json:"generatedAt"`
	Sections        []ReportSection  `json:"sections"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// BatchItem is one transaction's outcome in a batch run.
type BatchItem struct {
	TransactionID string          `json:"transactionId"`
	Record        *DecisionRecord `json:"record,omitempty"`
	ErrorCode     Code            `json:"errorCode,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// BatchResult aggregates a batch run. Items keep input order.
type BatchResult struct {
	Items           []BatchItem `json:"items"`
	Processed       int         `json:"processed"`
	Passed          int         `json:"passed"`
	Flagged         int         `json:"flagged"`
	Blocked         int         `json:"blocked"`
	Failed          int         `json:"failed"`
	MeanProbability float64     `json:"meanProbability"`
	TotalMs         int64       `json:"totalMs"`
}

// Records returns the successful decision records in input order.
func (b *BatchResult) Records() []DecisionRecord {
	out := make([]DecisionRecord, 0, len(b.Items))
	for _, item := range b.Items {
		if item.Record != nil {
			out = append(out, *item.Record)
		}
	}
	return out
}

// Explainer turns a decision record into an audience-adapted explanation.
// Implementations must be free of side effects so calls can be retried.
type Explainer interface {
	Explain(ctx context.Context, rec DecisionRecord, audience Audience) (Explanation, error)
}

// Reporter builds investigation reports.
type Reporter interface {
	Report(ctx context.Context, in ReportInput) (InvestigationReport, error)
}

// AuditSink durably appends decision records.
type AuditSink interface {
	Record(ctx context.Context, rec DecisionRecord) error
}

// NotificationSink delivers alerts about a decision to a recipient.
type NotificationSink interface {
	Notify(ctx context.Context, rec DecisionRecord, recipient string) error
}
