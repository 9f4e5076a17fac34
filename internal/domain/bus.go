package domain

import (
	"context"
	"time"
)

// EventBus carries submissions, decisions and alerts between components.
// Backed by Go channels (community) or NATS (pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is an event on the bus.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type" env:"TYPE"`

	// Channel settings
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size" env:"CHANNEL_BUFFER_SIZE"`

	// NATS settings
	NATSUrl           string        `json:"natsUrl" yaml:"nats_url" env:"NATS_URL"`
	NATSToken         string        `json:"-" yaml:"nats_token" env:"NATS_TOKEN"`
	NATSMaxReconnects int           `json:"natsMaxReconnects" yaml:"nats_max_reconnects" env:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait time.Duration `json:"natsReconnectWait" yaml:"nats_reconnect_wait" env:"NATS_RECONNECT_WAIT"`
}

// Topics used by the decision pipeline.
const (
	TopicTransactionSubmitted = "kestrel.transaction.submitted"
	TopicDecision             = "kestrel.decision"
	TopicAlert                = "kestrel.alert"
)

// Alert is the payload of TopicAlert.
type Alert struct {
	Recipient     string    `json:"recipient"`
	DecisionID    string    `json:"decisionId"`
	CaseID        string    `json:"caseId"`
	TransactionID string    `json:"transactionId"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Action        Action    `json:"action"`
	Probability   float64   `json:"probability"`
	Queue         string    `json:"queue,omitempty"`
	SLAHours      int       `json:"slaHours,omitempty"`
	RaisedAt      time.Time `json:"raisedAt"`
}
