package explain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/kestrel/internal/costmodel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func blockedRecord() domain.DecisionRecord {
	model := costmodel.Default()
	p := 0.82
	return domain.DecisionRecord{
		ID:            "dec-1",
		TransactionID: "tx-1",
		CaseID:        "CASE-20260302140000-abcd1234",
		BeneficiaryID: "ben-1",
		Workflow:      domain.WorkflowInvestigation,
		Probability:   p,
		RiskLevel:     domain.RiskCritical,
		Action:        domain.ActionBlock,
		Confidence:    0.75,
		Components: []domain.ComponentScore{
			{Adapter: domain.AdapterPattern, Contribution: 1, Weight: 0.45, Status: domain.StatusOK},
			{Adapter: domain.AdapterTransaction, Contribution: 0.7, Weight: 0.55, Status: domain.StatusOK},
			{Adapter: domain.AdapterDocument, Status: domain.StatusTimedOut},
		},
		KeyFindings: []domain.Finding{
			{Source: domain.AdapterPattern, Type: "PATTERN_002", Severity: domain.SeverityHigh, Description: "Risky provider, high amount"},
			{Source: domain.AdapterTransaction, Type: "amount_spike", Severity: domain.SeverityHigh, Description: "amount 50x average"},
			{Source: domain.AdapterIdentity, Type: "invalid_rib", Severity: domain.SeverityHigh, Description: "IBAN checksum failed"},
			{Source: domain.AdapterTransaction, Type: "high_frequency", Severity: domain.SeverityMedium, Description: "12 claims in 30 days"},
		},
		Warnings:          []string{"document adapter timed out"},
		CostMatrix:        model.Matrix(),
		Threshold:         model.Threshold(),
		ExpectedReward:    model.ExpectedReward(p, true),
		AlternativeReward: model.ExpectedReward(p, false),
		Routing:           costmodel.Route(domain.RiskCritical, domain.ActionBlock),
	}
}

func TestExplain(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	rec := blockedRecord()

	t.Run("SameFactsForEveryAudience", func(t *testing.T) {
		facts := Facts(rec)
		for _, a := range []domain.Audience{domain.AudienceAnalyst, domain.AudienceManager, domain.AudienceBeneficiary} {
			exp, err := b.Explain(ctx, rec, a)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", a, err)
			}
			if exp.Audience != a {
				t.Errorf("expected audience %s, got %s", a, exp.Audience)
			}
			if !strings.Contains(exp.Text, facts) {
				t.Errorf("%s: expected text to contain %q, got %q", a, facts, exp.Text)
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		first, err := b.Explain(ctx, rec, domain.AudienceAnalyst)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, _ := b.Explain(ctx, rec, domain.AudienceAnalyst)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("explanations differ (-first +second):\n%s", diff)
		}
	})

	t.Run("AnalystDetail", func(t *testing.T) {
		exp, _ := b.Explain(ctx, rec, domain.AudienceAnalyst)
		for _, want := range []string{"pattern: 1.000 (weight 0.450)", "document: timed_out", "PATTERN_002", "document adapter timed out"} {
			if !strings.Contains(exp.Text, want) {
				t.Errorf("expected analyst text to contain %q", want)
			}
		}
	})

	t.Run("BeneficiaryHidesInternals", func(t *testing.T) {
		exp, _ := b.Explain(ctx, rec, domain.AudienceBeneficiary)
		if strings.Contains(exp.Text, "PATTERN_002") || strings.Contains(exp.Text, "fraud_investigation") {
			t.Errorf("expected no internal details for beneficiary, got %q", exp.Text)
		}
		if len(exp.Recommendations) != 0 {
			t.Errorf("expected no recommendations for beneficiary, got %d", len(exp.Recommendations))
		}
		if exp.Summary != "Your claim is on hold" {
			t.Errorf("unexpected summary %q", exp.Summary)
		}
	})

	t.Run("UnknownAudience", func(t *testing.T) {
		_, err := b.Explain(ctx, rec, "press")
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected invalid input, got %v", err)
		}
	})

	t.Run("IncompleteRecord", func(t *testing.T) {
		_, err := b.Explain(ctx, domain.DecisionRecord{}, domain.AudienceAnalyst)
		if !errors.Is(err, domain.ErrExplanation) {
			t.Errorf("expected explanation error, got %v", err)
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := b.Explain(cctx, rec, domain.AudienceAnalyst); !errors.Is(err, context.Canceled) {
			t.Errorf("expected canceled, got %v", err)
		}
	})
}

func TestRecommend(t *testing.T) {
	t.Run("Blocked", func(t *testing.T) {
		var got []string
		for _, r := range Recommend(blockedRecord()) {
			got = append(got, r.Priority+": "+r.Action)
		}
		want := []string{
			"urgent: Review in fraud_investigation_urgent within 2h",
			"high: Request supporting evidence for the amount",
			"high: Verify the beneficiary's identity",
			"medium: Compare with similar cases",
			"medium: Re-run a full analysis",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("recommendations mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Passed", func(t *testing.T) {
		rec := domain.DecisionRecord{TransactionID: "tx", Action: domain.ActionPass, RiskLevel: domain.RiskLow}
		recs := Recommend(rec)
		if len(recs) != 1 || recs[0].Priority != PriorityLow {
			t.Errorf("expected a single low priority recommendation, got %+v", recs)
		}
	})
}

func TestReport(t *testing.T) {
	b := &Builder{now: func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }}
	rec := blockedRecord()

	rep, err := b.Report(context.Background(), domain.ReportInput{
		Record: rec,
		Analysis: []domain.AnalysisResult{
			{Adapter: domain.AdapterPattern, Status: domain.StatusOK, Contribution: 1, ElapsedMs: 3},
			{Adapter: domain.AdapterDocument, Status: domain.StatusTimedOut, ElapsedMs: 2000, Error: "adapter timed out after 2s"},
		},
		Phases: []domain.PhaseTiming{
			{Phase: domain.PhaseIntake},
			{Phase: domain.PhaseAnalyze, ElapsedMs: 2000},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.CaseID != rec.CaseID || rep.TransactionID != rec.TransactionID {
		t.Errorf("expected report for %s/%s, got %s/%s", rec.CaseID, rec.TransactionID, rep.CaseID, rep.TransactionID)
	}

	var titles []string
	for _, s := range rep.Sections {
		titles = append(titles, s.Title)
	}
	want := []string{"Summary", "Analysis", "Key findings", "Cost justification", "Routing", "Phase timings", "Warnings"}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}

	analysis := rep.Sections[1].Lines
	if len(analysis) != 2 || !strings.Contains(analysis[1], "adapter timed out after 2s") {
		t.Errorf("expected timed out document line, got %v", analysis)
	}
	if len(rep.Recommendations) == 0 {
		t.Errorf("expected recommendations")
	}
	if !rep.GeneratedAt.Equal(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected generation time %s", rep.GeneratedAt)
	}
}
