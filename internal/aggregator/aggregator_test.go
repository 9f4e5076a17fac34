package aggregator

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func okResult(a domain.Adapter, c float64, findings ...domain.Finding) domain.AnalysisResult {
	return domain.AnalysisResult{Adapter: a, Contribution: c, Status: domain.StatusOK, Findings: findings}
}

func TestAggregate(t *testing.T) {
	weights := DefaultWeights()

	t.Run("AllLow", func(t *testing.T) {
		var results []domain.AnalysisResult
		for _, a := range domain.Adapters {
			results = append(results, okResult(a, 0.05))
		}

		res, err := Aggregate(results, weights, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(res.Probability-0.05) > 1e-9 {
			t.Errorf("expected probability 0.05, got %.4f", res.Probability)
		}
		if res.Probability >= 0.2 {
			t.Errorf("expected low risk probability, got %.4f", res.Probability)
		}
		if res.Confidence != 1 {
			t.Errorf("expected full confidence for identical scores, got %.4f", res.Confidence)
		}
	})

	t.Run("FailedDocumentRedistributes", func(t *testing.T) {
		results := []domain.AnalysisResult{
			{Adapter: domain.AdapterDocument, Status: domain.StatusFailed, Error: "ocr unavailable"},
			okResult(domain.AdapterTransaction, 0.1),
			okResult(domain.AdapterPattern, 0.1),
			okResult(domain.AdapterIdentity, 0.1),
			okResult(domain.AdapterNetwork, 0.1),
		}

		res, err := Aggregate(results, weights, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(res.Probability-0.1) > 1e-9 {
			t.Errorf("expected probability 0.1, got %.4f", res.Probability)
		}
		var sum float64
		for _, w := range res.Weights {
			sum += w
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("expected effective weights to sum to 1, got %.6f", sum)
		}
		if _, ok := res.Weights[domain.AdapterDocument]; ok {
			t.Error("failed adapter should carry no weight")
		}
		if math.Abs(res.Weights[domain.AdapterTransaction]-0.30/0.80) > 1e-9 {
			t.Errorf("expected transaction weight %.4f, got %.4f", 0.30/0.80, res.Weights[domain.AdapterTransaction])
		}
	})

	t.Run("FailedIsNotZeroRisk", func(t *testing.T) {
		results := []domain.AnalysisResult{
			okResult(domain.AdapterTransaction, 0.8),
			{Adapter: domain.AdapterPattern, Status: domain.StatusTimedOut},
		}

		res, err := Aggregate(results, weights, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(res.Probability-0.8) > 1e-9 {
			t.Errorf("timed out adapter must not dilute the score: expected 0.8, got %.4f", res.Probability)
		}
	})

	t.Run("NoEvidence", func(t *testing.T) {
		results := []domain.AnalysisResult{
			{Adapter: domain.AdapterTransaction, Status: domain.StatusFailed},
			{Adapter: domain.AdapterPattern, Status: domain.StatusTimedOut},
			{Adapter: domain.AdapterDocument, Status: domain.StatusSkipped},
		}

		_, err := Aggregate(results, weights, 0)
		if !errors.Is(err, domain.ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("DuplicateAdapter", func(t *testing.T) {
		results := []domain.AnalysisResult{
			okResult(domain.AdapterTransaction, 0.1),
			okResult(domain.AdapterTransaction, 0.9),
		}
		if _, err := Aggregate(results, weights, 0); err == nil {
			t.Error("expected error for duplicate adapter results")
		}
	})

	t.Run("SkippedHasZeroComponent", func(t *testing.T) {
		results := []domain.AnalysisResult{
			okResult(domain.AdapterTransaction, 0.4),
			{Adapter: domain.AdapterIdentity, Status: domain.StatusSkipped, Contribution: 0.9},
		}
		res, err := Aggregate(results, weights, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []domain.ComponentScore{
			{Adapter: domain.AdapterIdentity, Status: domain.StatusSkipped},
			{Adapter: domain.AdapterTransaction, Contribution: 0.4, Weight: 1, Status: domain.StatusOK},
		}
		if diff := cmp.Diff(want, res.Components); diff != "" {
			t.Errorf("components mismatch (-want +got):\n%s", diff)
		}
		if res.Confidence != 1 {
			t.Errorf("skipped adapter must not affect confidence, got %.4f", res.Confidence)
		}
	})
}

func TestConfidence(t *testing.T) {
	cases := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{"Agreement", []float64{0.3, 0.3, 0.3}, 1},
		{"Spread", []float64{0.2, 0.4}, 1 - 0.01*4},
		{"MaxDisagreement", []float64{0, 1}, 0},
		{"Empty", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Confidence(tc.scores); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("expected %.4f, got %.4f", tc.want, got)
			}
		})
	}
}

func TestRankFindings(t *testing.T) {
	results := []domain.AnalysisResult{
		okResult(domain.AdapterDocument, 0.5,
			domain.Finding{Type: "document_tampering", Severity: domain.SeverityHigh}),
		okResult(domain.AdapterTransaction, 0.5,
			domain.Finding{Type: "amount_spike", Severity: domain.SeverityHigh},
			domain.Finding{Type: "high_frequency", Severity: domain.SeverityMedium}),
		okResult(domain.AdapterPattern, 0.5,
			domain.Finding{Type: "PATTERN_003", Severity: domain.SeverityHigh}),
		okResult(domain.AdapterNetwork, 0.5,
			domain.Finding{Type: "fraud_ring", Severity: domain.SeverityCritical}),
		{Adapter: domain.AdapterIdentity, Status: domain.StatusSkipped,
			Findings: []domain.Finding{{Type: domain.FindingMissingInput, Severity: domain.SeverityLow}}},
	}

	got := RankFindings(results, 10)
	var types []string
	for _, f := range got {
		types = append(types, f.Type)
	}
	want := []string{"fraud_ring", "PATTERN_003", "amount_spike", "document_tampering", "high_frequency", domain.FindingMissingInput}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("finding order mismatch (-want +got):\n%s", diff)
	}
	if got[0].Source != domain.AdapterNetwork {
		t.Errorf("expected source to default to the adapter, got %q", got[0].Source)
	}

	t.Run("Truncates", func(t *testing.T) {
		var many []domain.Finding
		for i := 0; i < 15; i++ {
			many = append(many, domain.Finding{Type: "x", Severity: domain.SeverityLow})
		}
		ranked := RankFindings([]domain.AnalysisResult{okResult(domain.AdapterPattern, 1, many...)}, DefaultFindingsLimit)
		if len(ranked) != DefaultFindingsLimit {
			t.Errorf("expected %d findings, got %d", DefaultFindingsLimit, len(ranked))
		}
	})
}

func TestParseWeights(t *testing.T) {
	if _, err := ParseWeights(map[string]float64{"transaction": 1, "bogus": 1}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for unknown adapter, got %v", err)
	}
	if _, err := ParseWeights(map[string]float64{"transaction": -0.1}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for negative weight, got %v", err)
	}
	if _, err := ParseWeights(map[string]float64{"transaction": 0}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for all-zero weights, got %v", err)
	}
	w, err := ParseWeights(domain.DefaultWeights())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w[domain.AdapterPattern] != 0.25 {
		t.Errorf("expected pattern weight 0.25, got %v", w[domain.AdapterPattern])
	}
}

func TestRedistributeZeroWeights(t *testing.T) {
	w := Redistribute(Weights{domain.AdapterTransaction: 1}, []domain.Adapter{domain.AdapterNetwork, domain.AdapterIdentity})
	if w[domain.AdapterNetwork] != 0.5 || w[domain.AdapterIdentity] != 0.5 {
		t.Errorf("expected equal split, got %v", w)
	}
}
