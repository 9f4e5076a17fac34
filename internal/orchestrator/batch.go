package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ProcessBatch scores transactions with the transaction adapter only, on a
// bounded worker pool. A failing item is reported in its slot and does not
// fail the batch. Flagged items carry RequiresFullAnalysis.
func (o *Orchestrator) ProcessBatch(ctx context.Context, txs []*domain.Transaction) (*domain.BatchResult, error) {
	snap := o.settings.Current()
	start := o.now()

	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessBatch", trace.WithAttributes(
		attribute.Int("kestrel.batch_size", len(txs)),
	))
	defer span.End()

	if len(txs) == 0 {
		err := domain.NewRunError(domain.PhaseIntake, "", domain.InvalidInputf("batch is empty"))
		span.SetStatus(codes.Error, string(err.Code))
		return nil, err
	}
	if len(txs) > snap.BatchMax {
		err := domain.NewRunError(domain.PhaseIntake, "",
			domain.InvalidInputf("batch of %d exceeds the maximum of %d", len(txs), snap.BatchMax))
		span.SetStatus(codes.Error, string(err.Code))
		return nil, err
	}

	items := make([]domain.BatchItem, len(txs))

	var g errgroup.Group
	g.SetLimit(snap.BatchWorkers)
	for i, tx := range txs {
		g.Go(func() error {
			items[i] = o.batchItem(ctx, tx, snap)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		runErr := domain.NewRunError(domain.PhaseAnalyze, "", err)
		span.SetStatus(codes.Error, string(runErr.Code))
		return nil, runErr
	}

	res := summarize(items)
	res.TotalMs = o.now().Sub(start).Milliseconds()

	o.logger.Info("batch processed",
		"processed", res.Processed,
		"passed", res.Passed,
		"flagged", res.Flagged,
		"blocked", res.Blocked,
		"failed", res.Failed,
		"duration_ms", res.TotalMs,
	)
	return res, nil
}

func (o *Orchestrator) batchItem(ctx context.Context, tx *domain.Transaction, snap *config.Snapshot) domain.BatchItem {
	var item domain.BatchItem
	if tx != nil {
		item.TransactionID = tx.ID
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.batchItem", trace.WithAttributes(
		attribute.String("kestrel.tx_id", item.TransactionID),
	))
	defer span.End()

	run := newRun(domain.WorkflowBatch, o.newCaseID(), item.TransactionID, o.now)

	var rec *domain.DecisionRecord
	err := ctx.Err()
	if err == nil {
		err = validateTransaction(tx)
	}
	if err != nil {
		err = o.abort(ctx, span, run, err)
	} else {
		rec, err = o.execute(ctx, span, run, &domain.ScoreInput{Transaction: tx, SkipHistory: true}, snap)
	}
	if err != nil {
		item.ErrorCode = domain.CodeOf(err)
		item.Error = err.Error()
		return item
	}

	if err := run.Enter(domain.PhaseDone); err == nil {
		o.metrics.recordRun(ctx, run.Workflow, run.ElapsedMs(), "")
	}
	clone := rec.Clone()
	item.Record = &clone
	return item
}

func summarize(items []domain.BatchItem) *domain.BatchResult {
	res := &domain.BatchResult{Items: items}
	var sum float64
	for _, item := range items {
		if item.Record == nil {
			res.Failed++
			continue
		}
		res.Processed++
		sum += item.Record.Probability
		switch item.Record.Action {
		case domain.ActionPass:
			res.Passed++
		case domain.ActionFlag:
			res.Flagged++
		case domain.ActionBlock:
			res.Blocked++
		}
	}
	if res.Processed > 0 {
		res.MeanProbability = sum / float64(res.Processed)
	}
	return res
}
