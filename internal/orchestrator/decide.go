package orchestrator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/aggregator"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/costmodel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// decide aggregates the run's analysis and builds its decision record.
func (o *Orchestrator) decide(run *WorkflowRun, in *domain.ScoreInput, snap *config.Snapshot) (*domain.DecisionRecord, error) {
	agg, err := aggregator.Aggregate(run.Analysis, snap.Weights, snap.FindingsLimit)
	if err != nil {
		return nil, err
	}

	model := snap.Model
	p := agg.Probability
	level := model.ClassifyRisk(p)
	action := model.Decide(p)
	flagged := action.Flagged()
	decidedAt := o.now()

	beneficiaryID := in.Transaction.BeneficiaryID
	if beneficiaryID == "" && in.Beneficiary != nil {
		beneficiaryID = in.Beneficiary.ID
	}

	rec := &domain.DecisionRecord{
		ID:                   uuid.NewString(),
		TransactionID:        in.Transaction.ID,
		CaseID:               run.CaseID,
		BeneficiaryID:        beneficiaryID,
		Workflow:             run.Workflow,
		Probability:          p,
		RiskLevel:            level,
		Action:               action,
		Confidence:           agg.Confidence,
		Components:           agg.Components,
		KeyFindings:          agg.Findings,
		Warnings:             degradations(run.Analysis),
		CostMatrix:           model.Matrix(),
		Threshold:            model.Threshold(),
		ExpectedReward:       model.ExpectedReward(p, flagged),
		AlternativeReward:    model.ExpectedReward(p, !flagged),
		Routing:              costmodel.Route(level, action),
		RequiresFullAnalysis: flagged && (run.Workflow == domain.WorkflowQuick || run.Workflow == domain.WorkflowBatch),
		ConfigVersion:        snap.Version,
		EngineVersion:        domain.EngineVersion,
		StartedAt:            run.StartedAt,
		DecidedAt:            decidedAt,
		TotalMs:              decidedAt.Sub(run.StartedAt).Milliseconds(),
	}
	return rec, nil
}

// degradations describes every adapter that did not contribute normally.
func degradations(results []domain.AnalysisResult) []string {
	var out []string
	for _, r := range results {
		switch r.Status {
		case domain.StatusFailed:
			out = append(out, fmt.Sprintf("%s adapter failed: %s", r.Adapter, r.Error))
		case domain.StatusTimedOut:
			out = append(out, fmt.Sprintf("%s adapter timed out", r.Adapter))
		case domain.StatusSkipped:
			reason := "not applicable"
			if len(r.Findings) > 0 {
				reason = r.Findings[0].Description
			}
			out = append(out, fmt.Sprintf("%s adapter skipped: %s", r.Adapter, reason))
		}
		out = append(out, r.Warnings...)
	}
	return out
}
