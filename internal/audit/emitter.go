// Package audit delivers decision records to durable sinks and alerts to
// recipients, off the request path.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Options configures an Emitter.
type Options struct {
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration

	Recipients   []string
	MinRiskLevel domain.RiskLevel
	RatePerSec   float64
	Burst        int

	Logger *slog.Logger
}

// OptionsFrom builds emitter options from the audit and notify settings.
func OptionsFrom(a domain.AuditConfig, n domain.NotifyConfig) (Options, error) {
	level, ok := domain.ParseRiskLevel(n.MinRiskLevel)
	if !ok {
		return Options{}, domain.Configurationf("unknown notify risk level %q", n.MinRiskLevel)
	}
	return Options{
		QueueSize:    a.QueueSize,
		MaxAttempts:  a.MaxAttempts,
		RetryBackoff: a.RetryBackoff,
		Recipients:   n.Recipients,
		MinRiskLevel: level,
		RatePerSec:   n.RatePerSec,
		Burst:        n.Burst,
	}, nil
}

// Emitter queues decision records and hands them to its sinks and notifiers
// from a single background worker. Submit never blocks.
type Emitter struct {
	sinks     []domain.AuditSink
	notifiers []domain.NotificationSink
	opts      Options
	logger    *slog.Logger
	limiter   *rate.Limiter

	queue chan domain.DecisionRecord
	done  chan struct{}

	// ctx is canceled when Close gives up waiting, to stop retries.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewEmitter starts an emitter.
func NewEmitter(sinks []domain.AuditSink, notifiers []domain.NotificationSink, opts Options) *Emitter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MinRiskLevel == "" {
		opts.MinRiskLevel = domain.RiskHigh
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		sinks:     sinks,
		notifiers: notifiers,
		opts:      opts,
		logger:    opts.Logger,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		queue:     make(chan domain.DecisionRecord, opts.QueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go e.run()
	return e
}

// Submit enqueues rec. A full or closed queue drops the record and logs
// ErrAuditWrite.
func (e *Emitter) Submit(rec domain.DecisionRecord) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(rec, "emitter closed")
		return
	}
	select {
	case e.queue <- rec:
	default:
		e.drop(rec, "queue full")
	}
}

func (e *Emitter) drop(rec domain.DecisionRecord, reason string) {
	e.dropped.Add(1)
	e.logger.Error("decision record dropped",
		"decision_id", rec.ID,
		"tx_id", rec.TransactionID,
		"reason", reason,
		"error", domain.ErrAuditWrite,
	)
}

// Dropped reports how many records never reached the queue.
func (e *Emitter) Dropped() int64 { return e.dropped.Load() }

// Failed reports how many sink writes failed after every attempt.
func (e *Emitter) Failed() int64 { return e.failed.Load() }

// Close stops accepting records and waits for the queue to drain. If ctx
// ends first, pending retries are abandoned and ctx.Err() is returned.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-e.done
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for rec := range e.queue {
		for _, sink := range e.sinks {
			e.record(sink, rec)
		}
		e.notify(rec)
	}
}

// record writes rec to sink, retrying with linear backoff.
func (e *Emitter) record(sink domain.AuditSink, rec domain.DecisionRecord) {
	var err error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if err = sink.Record(e.ctx, rec); err == nil {
			return
		}
		if attempt == e.opts.MaxAttempts || !e.sleep(time.Duration(attempt)*e.opts.RetryBackoff) {
			break
		}
		e.logger.Debug("audit write retry",
			"decision_id", rec.ID,
			"attempt", attempt,
			"error", err,
		)
	}

	e.failed.Add(1)
	e.logger.Error("audit write failed",
		"decision_id", rec.ID,
		"tx_id", rec.TransactionID,
		"sink", fmt.Sprintf("%T", sink),
		"error", fmt.Errorf("%w: %v", domain.ErrAuditWrite, err),
	)
}

// sleep waits d, returning false if the emitter was canceled meanwhile.
func (e *Emitter) sleep(d time.Duration) bool {
	if d <= 0 {
		return e.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// notify alerts every recipient when rec reaches the configured risk level.
func (e *Emitter) notify(rec domain.DecisionRecord) {
	if len(e.notifiers) == 0 || rec.RiskLevel.Rank() < e.opts.MinRiskLevel.Rank() {
		return
	}
	for _, recipient := range e.opts.Recipients {
		if err := e.limiter.Wait(e.ctx); err != nil {
			e.logger.Warn("notification throttled",
				"decision_id", rec.ID,
				"recipient", recipient,
				"error", fmt.Errorf("%w: %v", domain.ErrNotification, err),
			)
			continue
		}
		for _, n := range e.notifiers {
			if err := n.Notify(e.ctx, rec, recipient); err != nil {
				e.logger.Warn("notification failed",
					"decision_id", rec.ID,
					"recipient", recipient,
					"error", fmt.Errorf("%w: %v", domain.ErrNotification, err),
				)
			}
		}
	}
}
