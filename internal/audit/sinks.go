package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DecisionStore is the part of the repository the audit log writes to.
type DecisionStore interface {
	SaveDecision(ctx context.Context, rec *domain.DecisionRecord) error
}

// RepositorySink appends records to the decision table.
type RepositorySink struct {
	store DecisionStore
}

// NewRepositorySink creates a sink over store.
func NewRepositorySink(store DecisionStore) *RepositorySink {
	return &RepositorySink{store: store}
}

// Record implements domain.AuditSink.
func (s *RepositorySink) Record(ctx context.Context, rec domain.DecisionRecord) error {
	return s.store.SaveDecision(ctx, &rec)
}

// BusSink publishes records on domain.TopicDecision.
type BusSink struct {
	bus domain.EventBus
}

// NewBusSink creates a sink over bus.
func NewBusSink(bus domain.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

// Record implements domain.AuditSink.
func (s *BusSink) Record(ctx context.Context, rec domain.DecisionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	return s.bus.Publish(ctx, domain.TopicDecision, payload)
}

// NewAlert builds the alert for rec addressed to recipient.
func NewAlert(rec domain.DecisionRecord, recipient string, raisedAt time.Time) domain.Alert {
	return domain.Alert{
		Recipient:     recipient,
		DecisionID:    rec.ID,
		CaseID:        rec.CaseID,
		TransactionID: rec.TransactionID,
		RiskLevel:     rec.RiskLevel,
		Action:        rec.Action,
		Probability:   rec.Probability,
		Queue:         rec.Routing.Queue,
		SLAHours:      rec.Routing.SLAHours,
		RaisedAt:      raisedAt,
	}
}

// BusNotifier publishes alerts on domain.TopicAlert.
type BusNotifier struct {
	bus domain.EventBus
	now func() time.Time
}

// NewBusNotifier creates a notifier over bus.
func NewBusNotifier(bus domain.EventBus) *BusNotifier {
	return &BusNotifier{bus: bus, now: time.Now}
}

// Notify implements domain.NotificationSink.
func (n *BusNotifier) Notify(ctx context.Context, rec domain.DecisionRecord, recipient string) error {
	payload, err := json.Marshal(NewAlert(rec, recipient, n.now().UTC()))
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return n.bus.Publish(ctx, domain.TopicAlert, payload)
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier; nil uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements domain.NotificationSink.
func (n *LogNotifier) Notify(ctx context.Context, rec domain.DecisionRecord, recipient string) error {
	n.logger.WarnContext(ctx, "fraud alert",
		"recipient", recipient,
		"decision_id", rec.ID,
		"case_id", rec.CaseID,
		"tx_id", rec.TransactionID,
		"risk_level", rec.RiskLevel,
		"action", rec.Action,
		"probability", rec.Probability,
		"queue", rec.Routing.Queue,
	)
	return nil
}
