package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/kestrel/internal/costmodel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	return path
}

func scoreFixture() []map[string]any {
	return []map[string]any{
		{
			"id":                "tx-ok",
			"amount":            80,
			"averageAmount":     100,
			"providerRiskScore": 0.1,
			"tenureMonths":      24,
			"fraud":             false,
		},
		{
			"id":                "tx-bad",
			"amount":            5000,
			"averageAmount":     100,
			"claimsLast30d":     15,
			"tenureMonths":      1,
			"providerRiskScore": 0.9,
			"fraud":             true,
		},
	}
}

func TestScoreCommand(t *testing.T) {
	path := writeJSON(t, scoreFixture())

	t.Run("Table", func(t *testing.T) {
		out, err := execute(t, "score", path)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		for _, want := range []string{"tx-ok", "tx-bad", "processed 2", "labelled 2", "TP 1", "TN 1"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, out)
			}
		}
	})

	t.Run("JSON", func(t *testing.T) {
		out, err := execute(t, "score", "--json", path)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		var report scoreReport
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if report.Batch.Processed != 2 {
			t.Errorf("expected 2 processed, got %d", report.Batch.Processed)
		}
		if report.Stats == nil || report.Stats.Recall != 1 {
			t.Errorf("expected recall 1, got %+v", report.Stats)
		}
		if got := report.Batch.Items[0].Record.Action; got != domain.ActionPass {
			t.Errorf("expected PASS for tx-ok, got %s", got)
		}
		if got := report.Batch.Items[1].Record.Action; !got.Flagged() {
			t.Errorf("expected tx-bad to be flagged, got %s", got)
		}
	})

	t.Run("Unlabelled", func(t *testing.T) {
		unlabelled := writeJSON(t, []map[string]any{{"id": "tx-1", "amount": 10}})
		out, err := execute(t, "score", unlabelled)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if strings.Contains(out, "labelled") {
			t.Errorf("expected no label statistics, got:\n%s", out)
		}
	})

	t.Run("BadFile", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := execute(t, "score", bad)
		if domain.CodeOf(err) != domain.CodeInvalidInput {
			t.Errorf("expected INVALID_INPUT, got %v", err)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		empty := writeJSON(t, []map[string]any{})
		_, err := execute(t, "score", empty)
		if domain.CodeOf(err) != domain.CodeInvalidInput {
			t.Errorf("expected INVALID_INPUT, got %v", err)
		}
	})
}

func TestLabelStats(t *testing.T) {
	yes, no := true, false
	entries := []labelledTransaction{{Fraud: &yes}, {Fraud: &no}, {}, {Fraud: &yes}}
	res := &domain.BatchResult{Items: []domain.BatchItem{
		{Record: &domain.DecisionRecord{Action: domain.ActionBlock}},
		{Record: &domain.DecisionRecord{Action: domain.ActionFlag}},
		{Record: &domain.DecisionRecord{Action: domain.ActionPass}},
		{ErrorCode: domain.CodeInvalidInput},
	}}

	stats := labelStats(costmodel.Default(), entries, res)
	if stats == nil {
		t.Fatal("expected stats")
	}
	if stats.Total != 2 || stats.TruePositives != 1 || stats.FalsePositives != 1 {
		t.Errorf("expected 2 outcomes with 1 TP and 1 FP, got %+v", stats)
	}

	if got := labelStats(costmodel.Default(), []labelledTransaction{{}}, &domain.BatchResult{
		Items: []domain.BatchItem{{Record: &domain.DecisionRecord{}}},
	}); got != nil {
		t.Errorf("expected nil stats without labels, got %+v", got)
	}
}

func TestCostModelCommand(t *testing.T) {
	out, err := execute(t, "cost-model")
	if err != nil {
		t.Fatalf("cost-model failed: %v", err)
	}
	if !strings.Contains(out, "threshold    0.0909") {
		t.Errorf("expected default threshold 0.0909, got:\n%s", out)
	}
	if !strings.Contains(out, "block_immediate") {
		t.Errorf("expected critical routing in table, got:\n%s", out)
	}
}

func TestSyntheticClaims(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	opts := benchOptions{Count: 200, FraudRate: 0.25, Seed: 7}

	txs1, labels1 := syntheticClaims(opts, now)
	txs2, labels2 := syntheticClaims(opts, now)

	if diff := cmp.Diff(txs1, txs2); diff != "" {
		t.Errorf("expected reproducible claims (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(labels1, labels2); diff != "" {
		t.Errorf("expected reproducible labels (-first +second):\n%s", diff)
	}

	fraud := 0
	for i, tx := range txs1 {
		if tx.ID == "" || tx.Amount < 0 || tx.ProviderRiskScore > 1 {
			t.Fatalf("invalid synthetic claim %+v", tx)
		}
		if labels1[i] {
			fraud++
		}
	}
	if fraud == 0 || fraud == len(txs1) {
		t.Errorf("expected a mix of fraud and genuine claims, got %d of %d", fraud, len(txs1))
	}
}

func TestBenchCommand(t *testing.T) {
	out, err := execute(t, "bench", "--count", "50", "--fraud-rate", "0.2")
	if err != nil {
		t.Fatalf("bench failed: %v", err)
	}
	for _, want := range []string{"claims       50", "throughput", "recall"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	if _, err := execute(t, "bench", "--count", "0"); domain.CodeOf(err) != domain.CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT for zero count, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, domain.LoggingConfig{Level: "debug", Format: "text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug("hello", "tx_id", "tx-1")
	if !strings.Contains(buf.String(), "tx_id=tx-1") {
		t.Errorf("expected text output, got %q", buf.String())
	}

	if _, err := newLogger(&buf, domain.LoggingConfig{Format: "xml"}); domain.CodeOf(err) != domain.CodeConfiguration {
		t.Errorf("expected CONFIGURATION, got %v", err)
	}
}
