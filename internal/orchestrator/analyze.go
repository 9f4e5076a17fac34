package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// analyze invokes adapters concurrently and fills run.Analysis, one slot per
// adapter. It returns once every adapter has answered or the phase deadline
// has passed, whichever is first.
func (o *Orchestrator) analyze(ctx context.Context, run *WorkflowRun, in *domain.ScoreInput, adapters []domain.Adapter, snap *config.Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, snap.PhaseDeadline)
	defer cancel()

	run.Analysis = make([]domain.AnalysisResult, len(adapters))

	var wg sync.WaitGroup
	for idx, a := range adapters {
		if missing := in.Missing(a); missing != "" {
			run.Analysis[idx] = skipped(a, "no "+missing+" supplied")
			continue
		}
		scorer, ok := o.scorers[a]
		if !ok {
			run.Analysis[idx] = skipped(a, "no "+string(a)+" scorer configured")
			continue
		}

		wg.Add(1)
		go func(idx int, a domain.Adapter, s domain.Scorer) {
			defer wg.Done()
			run.Analysis[idx] = o.invoke(ctx, a, s, in, snap.TimeoutFor(a), run.TxID)
		}(idx, a, scorer)
	}
	wg.Wait()

	for _, r := range run.Analysis {
		o.metrics.recordAdapter(ctx, r)
	}
}

type outcome struct {
	score domain.Score
	err   error
}

// invoke runs one adapter under its own timeout. It returns by the deadline
// even if the adapter ignores cancellation; the adapter's late answer is
// discarded.
func (o *Orchestrator) invoke(ctx context.Context, a domain.Adapter, s domain.Scorer, in *domain.ScoreInput, timeout time.Duration, txID string) domain.AnalysisResult {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "adapter."+string(a), trace.WithAttributes(
		attribute.String("kestrel.adapter", string(a)),
	))
	defer span.End()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", domain.ErrAdapterFailure, r)}
			}
		}()
		score, err := s.Analyze(ctx, in)
		done <- outcome{score: score, err: err}
	}()

	res := domain.AnalysisResult{Adapter: a}
	select {
	case out := <-done:
		res.ElapsedMs = o.now().Sub(start).Milliseconds()
		switch {
		case out.err != nil && (errors.Is(out.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
			res.Status = domain.StatusTimedOut
			res.Error = fmt.Sprintf("%v after %s", domain.ErrAdapterTimeout, timeout)
		case out.err != nil:
			res.Status = domain.StatusFailed
			res.Error = out.err.Error()
		default:
			o.accept(&res, out.score, txID)
		}
	case <-ctx.Done():
		res.ElapsedMs = o.now().Sub(start).Milliseconds()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Status = domain.StatusTimedOut
			res.Error = fmt.Sprintf("%v after %dms", domain.ErrAdapterTimeout, res.ElapsedMs)
		} else {
			res.Status = domain.StatusFailed
			res.Error = ctx.Err().Error()
		}
	}

	span.SetAttributes(attribute.String("kestrel.status", string(res.Status)))
	if res.Status != domain.StatusOK {
		span.SetStatus(codes.Error, res.Error)
		o.logger.Warn("adapter degraded",
			"tx_id", txID,
			"adapter", a,
			"status", res.Status,
			"elapsed_ms", res.ElapsedMs,
			"error", res.Error,
		)
	}
	return res
}

// accept normalizes a successful score into res.
func (o *Orchestrator) accept(res *domain.AnalysisResult, score domain.Score, txID string) {
	v := score.Contribution
	if math.IsNaN(v) {
		res.Status = domain.StatusFailed
		res.Error = fmt.Sprintf("%v: contribution is NaN", domain.ErrAdapterFailure)
		return
	}
	if v < 0 || v > 1 {
		clamped := math.Max(0, math.Min(1, v))
		o.logger.Warn("adapter contribution out of range, clamped",
			"tx_id", txID,
			"adapter", res.Adapter,
			"contribution", v,
			"clamped", clamped,
		)
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s contribution %v clamped to %v", res.Adapter, v, clamped))
		v = clamped
	}

	res.Status = domain.StatusOK
	res.Contribution = v
	if len(score.Findings) > 0 {
		res.Findings = make([]domain.Finding, len(score.Findings))
		for i, f := range score.Findings {
			if f.Source == "" {
				f.Source = res.Adapter
			}
			res.Findings[i] = f
		}
	}
}

func skipped(a domain.Adapter, reason string) domain.AnalysisResult {
	return domain.AnalysisResult{
		Adapter: a,
		Status:  domain.StatusSkipped,
		Findings: []domain.Finding{{
			Source:      a,
			Type:        domain.FindingMissingInput,
			Severity:    domain.SeverityLow,
			Description: reason,
		}},
	}
}
