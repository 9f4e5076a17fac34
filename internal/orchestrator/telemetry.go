package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type instruments struct {
	decisions   metric.Int64Counter
	adapters    metric.Int64Counter
	runDuration metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	decisions, err := meter.Int64Counter("kestrel.decisions",
		metric.WithDescription("Decisions made, by action and risk level"))
	if err != nil {
		return nil, err
	}
	adapters, err := meter.Int64Counter("kestrel.adapter.results",
		metric.WithDescription("Adapter invocations, by adapter and status"))
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram("kestrel.run.duration",
		metric.WithDescription("Wall-clock duration of orchestration runs"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &instruments{decisions: decisions, adapters: adapters, runDuration: runDuration}, nil
}

func (m *instruments) recordDecision(ctx context.Context, rec *domain.DecisionRecord) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(rec.Action)),
		attribute.String("risk_level", string(rec.RiskLevel)),
		attribute.String("workflow", string(rec.Workflow)),
	))
}

func (m *instruments) recordAdapter(ctx context.Context, r domain.AnalysisResult) {
	m.adapters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("adapter", string(r.Adapter)),
		attribute.String("status", string(r.Status)),
	))
}

func (m *instruments) recordRun(ctx context.Context, workflow domain.WorkflowType, elapsedMs int64, code domain.Code) {
	outcome := "ok"
	if code != "" {
		outcome = string(code)
	}
	m.runDuration.Record(ctx, float64(elapsedMs), metric.WithAttributes(
		attribute.String("workflow", string(workflow)),
		attribute.String("outcome", outcome),
	))
}
