package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server" envPrefix:"SERVER_"`

	// Tier picks the backing stack: community (SQLite, channels, LRU) or pro
	// (PostgreSQL, NATS, Redis).
	Tier Tier `json:"tier" yaml:"tier" env:"TIER"`

	// Engine settings are swapped atomically on reload.
	Engine EngineConfig `json:"engine" yaml:"engine" envPrefix:"ENGINE_"`

	// PatternsFile optionally replaces the built-in pattern library.
	PatternsFile string `json:"patternsFile,omitempty" yaml:"patterns_file" env:"PATTERNS_FILE"`

	Identity IdentityConfig `json:"identity" yaml:"identity" envPrefix:"IDENTITY_"`
	Audit    AuditConfig    `json:"audit" yaml:"audit" envPrefix:"AUDIT_"`
	Notify   NotifyConfig   `json:"notify" yaml:"notify" envPrefix:"NOTIFY_"`

	Repository RepositoryConfig `json:"repository" yaml:"repository" envPrefix:"DB_"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" envPrefix:"CACHE_"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus" envPrefix:"BUS_"`

	Logging LoggingConfig `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" envPrefix:"TRACING_"`
}

// EngineConfig is the part of the configuration a run reads.
type EngineConfig struct {
	CostMatrix CostMatrix `json:"costMatrix" yaml:"cost_matrix" envPrefix:"COST_"`

	// Weights per adapter name. Missing adapters weigh 0.
	Weights map[string]float64 `json:"weights" yaml:"weights" env:"WEIGHTS"`

	AdapterTimeout  time.Duration            `json:"adapterTimeout" yaml:"adapter_timeout" env:"ADAPTER_TIMEOUT"`
	AdapterTimeouts map[string]time.Duration `json:"adapterTimeouts,omitempty" yaml:"adapter_timeouts" env:"ADAPTER_TIMEOUTS"`
	PhaseDeadline   time.Duration            `json:"phaseDeadline" yaml:"phase_deadline" env:"PHASE_DEADLINE"`

	BatchMax      int `json:"batchMax" yaml:"batch_max" env:"BATCH_MAX"`
	BatchWorkers  int `json:"batchWorkers" yaml:"batch_workers" env:"BATCH_WORKERS"`
	FindingsLimit int `json:"findingsLimit" yaml:"findings_limit" env:"FINDINGS_LIMIT"`

	// HistoryWindow bounds beneficiary history and graph lookups.
	HistoryWindow time.Duration `json:"historyWindow" yaml:"history_window" env:"HISTORY_WINDOW"`
}

// IdentityConfig configures the local identity registry.
type IdentityConfig struct {
	// Sanctions lists full names that fail the sanctions check.
	Sanctions []string `json:"sanctions,omitempty" yaml:"sanctions" env:"SANCTIONS" envSeparator:";"`
}

// AuditConfig configures the asynchronous audit emitter.
type AuditConfig struct {
	QueueSize        int           `json:"queueSize" yaml:"queue_size" env:"QUEUE_SIZE"`
	MaxAttempts      int           `json:"maxAttempts" yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBackoff     time.Duration `json:"retryBackoff" yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	PublishDecisions bool          `json:"publishDecisions" yaml:"publish_decisions" env:"PUBLISH_DECISIONS"`
}

// NotifyConfig configures alerting.
type NotifyConfig struct {
	Recipients   []string `json:"recipients,omitempty" yaml:"recipients" env:"RECIPIENTS" envSeparator:","`
	MinRiskLevel string   `json:"minRiskLevel" yaml:"min_risk_level" env:"MIN_RISK_LEVEL"`
	RatePerSec   float64  `json:"ratePerSec" yaml:"rate_per_sec" env:"RATE_PER_SEC"`
	Burst        int      `json:"burst" yaml:"burst" env:"BURST"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host" env:"HOST"`
	Port         int           `json:"port" yaml:"port" env:"PORT"`
	ReadTimeout  time.Duration `json:"readTimeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`    // debug, info, warn, error
	Format string `json:"format" yaml:"format" env:"FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
// Spans are dropped when Enabled is false. Endpoint is an OTLP/HTTP URL;
// when empty, spans are sampled for trace ids but not exported.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	ServiceName string `json:"serviceName" yaml:"service_name" env:"SERVICE_NAME"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-process channels and a local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis.
	TierPro Tier = "pro"
)

// DefaultWeights are the adapter weights of a standard run.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		string(AdapterTransaction): 0.30,
		string(AdapterDocument):    0.20,
		string(AdapterPattern):     0.25,
		string(AdapterIdentity):    0.15,
		string(AdapterNetwork):     0.10,
	}
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CostMatrix:     DefaultCostMatrix(),
		Weights:        DefaultWeights(),
		AdapterTimeout: 2 * time.Second,
		PhaseDeadline:  5 * time.Second,
		BatchMax:       1000,
		BatchWorkers:   16,
		FindingsLimit:  10,
		HistoryWindow:  90 * 24 * time.Hour,
	}
}

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Audit: AuditConfig{
			QueueSize:        1024,
			MaxAttempts:      3,
			RetryBackoff:     200 * time.Millisecond,
			PublishDecisions: true,
		},
		Notify: NotifyConfig{
			Recipients:   []string{"fraud-team"},
			MinRiskLevel: string(RiskHigh),
			RatePerSec:   5,
			Burst:        10,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5 * time.Second,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
