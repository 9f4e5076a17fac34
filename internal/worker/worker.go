// Package worker runs transactions submitted on the event bus through the
// decision engine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Processor decides one request. *orchestrator.Orchestrator implements it.
type Processor interface {
	ProcessTransaction(ctx context.Context, req *domain.Request) (*domain.Decision, error)
}

// ClaimRecorder stores a decided transaction in the beneficiary's history.
type ClaimRecorder interface {
	RecordClaim(ctx context.Context, tx *domain.Transaction) (int64, error)
}

// Worker consumes domain.TopicTransactionSubmitted.
type Worker struct {
	bus       domain.EventBus
	processor Processor
	claims    ClaimRecorder
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker. claims may be nil.
func NewWorker(eventBus domain.EventBus, processor Processor, claims ClaimRecorder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		processor: processor,
		claims:    claims,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to submissions.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicTransactionSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started", "topic", domain.TopicTransactionSubmitted)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		w.logger.Error("failed to parse submission",
			"message_id", msg.ID,
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	logger := w.logger.With("message_id", msg.ID)
	if traceID := msg.Metadata[bus.MetadataTraceID]; traceID != "" {
		logger = logger.With("trace_id", traceID)
	}

	decision, err := w.processor.ProcessTransaction(ctx, &req)
	if err != nil {
		w.failed.Add(1)
		logger.Warn("submission not decided",
			"code", domain.CodeOf(err),
			"error", err,
		)
		return err
	}

	// The claim is recorded after the decision so that history reflects
	// only earlier transactions.
	if w.claims != nil {
		if _, err := w.claims.RecordClaim(ctx, req.Transaction); err != nil {
			logger.Error("failed to record claim",
				"tx_id", req.Transaction.ID,
				"error", err,
			)
		}
	}

	w.processed.Add(1)
	logger.Info("submission processed",
		"tx_id", decision.Record.TransactionID,
		"case_id", decision.Record.CaseID,
		"action", decision.Record.Action,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop cancels in-flight handlers and unsubscribes.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats summarizes worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
