package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

type stubProcessor struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (p *stubProcessor) ProcessTransaction(ctx context.Context, req *domain.Request) (*domain.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.seen = append(p.seen, req.Transaction.ID)
	return &domain.Decision{Record: domain.DecisionRecord{
		TransactionID: req.Transaction.ID,
		CaseID:        "CASE-1",
		Action:        domain.ActionPass,
	}}, nil
}

type stubClaims struct {
	mu  sync.Mutex
	ids []string
}

func (c *stubClaims) RecordClaim(ctx context.Context, tx *domain.Transaction) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, tx.ID)
	return int64(len(c.ids)), nil
}

func (c *stubClaims) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func submit(t *testing.T, b domain.EventBus, req domain.Request) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := b.Publish(context.Background(), domain.TopicTransactionSubmitted, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &stubProcessor{}, nil, quietLogger())
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionSubmitted {
			t.Errorf("expected topic %s, got %s", domain.TopicTransactionSubmitted, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessesAndRecordsClaim", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		processor := &stubProcessor{}
		claims := &stubClaims{}
		w := NewWorker(eventBus, processor, claims, quietLogger())
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		submit(t, eventBus, domain.Request{Transaction: &domain.Transaction{ID: "tx-001", Amount: 50}})
		waitFor(t, func() bool { return w.GetStats().Processed == 1 })

		if claims.count() != 1 {
			t.Errorf("expected 1 recorded claim, got %d", claims.count())
		}
	})

	t.Run("FailuresAreCounted", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		claims := &stubClaims{}
		processor := &stubProcessor{err: domain.InvalidInputf("transaction id is required")}
		w := NewWorker(eventBus, processor, claims, quietLogger())
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		submit(t, eventBus, domain.Request{Transaction: &domain.Transaction{}})
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionSubmitted, []byte("{not json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		waitFor(t, func() bool { return w.GetStats().Failed == 2 })

		if claims.count() != 0 {
			t.Errorf("expected no claims recorded for failed submissions, got %d", claims.count())
		}
	})
}

func TestHandleMessageParseError(t *testing.T) {
	w := NewWorker(bus.NewChannelBus(1), &stubProcessor{}, nil, quietLogger())
	err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("[")})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// TestWorkerPublishesDecision runs a submission through a real orchestrator
// whose audit emitter publishes decisions back on the bus.
func TestWorkerPublishesDecision(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	settings, err := config.NewStore(domain.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("failed to create settings: %v", err)
	}
	emitter := audit.NewEmitter([]domain.AuditSink{audit.NewBusSink(eventBus)}, nil, audit.Options{Logger: quietLogger()})
	builder := explain.NewBuilder()
	o, err := orchestrator.New(orchestrator.Options{
		Scorers:   []domain.Scorer{scoring.NewTransactionScorer(nil, nil)},
		Settings:  settings,
		Explainer: builder,
		Reporter:  builder,
		Recorder:  emitter,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	decisions := make(chan domain.DecisionRecord, 1)
	if _, err := eventBus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		var rec domain.DecisionRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			return err
		}
		decisions <- rec
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	w := NewWorker(eventBus, o, nil, quietLogger())
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	submit(t, eventBus, domain.Request{
		Transaction: &domain.Transaction{
			ID:                "tx-async",
			Amount:            100,
			AverageAmount:     100,
			ProviderRiskScore: 0.1,
			Timestamp:         time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		},
		Workflow: domain.WorkflowQuick,
	})

	select {
	case rec := <-decisions:
		if rec.TransactionID != "tx-async" {
			t.Errorf("expected tx-async, got %s", rec.TransactionID)
		}
		if rec.Action != domain.ActionPass {
			t.Errorf("expected PASS, got %s", rec.Action)
		}
		if rec.Workflow != domain.WorkflowQuick {
			t.Errorf("expected quick workflow, got %s", rec.Workflow)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for decision")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := emitter.Close(ctx); err != nil {
		t.Errorf("emitter Close failed: %v", err)
	}
}
