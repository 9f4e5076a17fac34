package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Tier != domain.TierCommunity {
			t.Errorf("expected community tier, got %s", cfg.Tier)
		}
		if cfg.Engine.CostMatrix != domain.DefaultCostMatrix() {
			t.Errorf("expected default cost matrix, got %+v", cfg.Engine.CostMatrix)
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeFile(t, `
server:
  port: 9090
engine:
  cost_matrix:
    true_positive: 20
    true_negative: 1
    false_positive: -10
    false_negative: -100
  weights:
    transaction: 0.6
    pattern: 0.4
  adapter_timeout: 750ms
  adapter_timeouts:
    network: 3s
notify:
  recipients: [ops, compliance]
  min_risk_level: critical
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		want := map[string]float64{"transaction": 0.6, "pattern": 0.4}
		if diff := cmp.Diff(want, cfg.Engine.Weights); diff != "" {
			t.Errorf("weights mismatch (-want +got):\n%s", diff)
		}
		if cfg.Engine.AdapterTimeout != 750*time.Millisecond {
			t.Errorf("expected 750ms adapter timeout, got %s", cfg.Engine.AdapterTimeout)
		}
		if cfg.Engine.AdapterTimeouts["network"] != 3*time.Second {
			t.Errorf("expected 3s network timeout, got %s", cfg.Engine.AdapterTimeouts["network"])
		}
		if cfg.Engine.PhaseDeadline != domain.DefaultEngineConfig().PhaseDeadline {
			t.Errorf("expected default phase deadline kept, got %s", cfg.Engine.PhaseDeadline)
		}
		if diff := cmp.Diff([]string{"ops", "compliance"}, cfg.Notify.Recipients); diff != "" {
			t.Errorf("recipients mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := writeFile(t, "engine:\n  batch_max: 500\n")
		t.Setenv("KESTREL_ENGINE_BATCH_MAX", "250")
		t.Setenv("KESTREL_ENGINE_COST_FN", "-80")
		t.Setenv("KESTREL_LOG_LEVEL", "debug")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Engine.BatchMax != 250 {
			t.Errorf("expected batch max 250, got %d", cfg.Engine.BatchMax)
		}
		if cfg.Engine.CostMatrix.FalseNegative != -80 {
			t.Errorf("expected FN -80, got %v", cfg.Engine.CostMatrix.FalseNegative)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Logging.Level)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("KESTREL_TIER", "pro")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" {
			t.Errorf("expected pro stack, got %s/%s", cfg.Repository.Driver, cfg.EventBus.Type)
		}
	})

	t.Run("UnknownField", func(t *testing.T) {
		path := writeFile(t, "engine:\n  treshold: 0.3\n")
		if _, err := Load(path); err == nil {
			t.Errorf("expected unknown field to be rejected")
		}
	})

	t.Run("EmptyFile", func(t *testing.T) {
		path := writeFile(t, "")
		if _, err := Load(path); err != nil {
			t.Errorf("expected empty file to yield defaults, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Errorf("expected missing file error")
		}
	})

	t.Run("InvalidCostMatrix", func(t *testing.T) {
		path := writeFile(t, `
engine:
  cost_matrix:
    true_positive: 10
    true_negative: 1
    false_positive: -50
    false_negative: -5
`)
		_, err := Load(path)
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"BadPort", func(c *domain.Config) { c.Server.Port = 0 }},
		{"BadDriver", func(c *domain.Config) { c.Repository.Driver = "mysql" }},
		{"BadCache", func(c *domain.Config) { c.Cache.Type = "memcached" }},
		{"BadBus", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"BadRiskLevel", func(c *domain.Config) { c.Notify.MinRiskLevel = "severe" }},
		{"BadLogLevel", func(c *domain.Config) { c.Logging.Level = "chatty" }},
		{"ZeroAuditQueue", func(c *domain.Config) { c.Audit.QueueSize = 0 }},
		{"TracingWithoutService", func(c *domain.Config) { c.Tracing = domain.TracingConfig{Enabled: true} }},
		{"UnknownWeight", func(c *domain.Config) { c.Engine.Weights = map[string]float64{"weather": 1} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tc.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestNewSnapshot(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		snap, err := NewSnapshot(domain.DefaultEngineConfig(), 7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap.Version != 7 {
			t.Errorf("expected version 7, got %d", snap.Version)
		}
		if snap.TimeoutFor(domain.AdapterNetwork) != 2*time.Second {
			t.Errorf("expected default timeout, got %s", snap.TimeoutFor(domain.AdapterNetwork))
		}
	})

	t.Run("PerAdapterTimeout", func(t *testing.T) {
		ec := domain.DefaultEngineConfig()
		ec.AdapterTimeouts = map[string]time.Duration{"document": 4 * time.Second}
		snap, err := NewSnapshot(ec, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap.TimeoutFor(domain.AdapterDocument) != 4*time.Second {
			t.Errorf("expected 4s document timeout, got %s", snap.TimeoutFor(domain.AdapterDocument))
		}
		if snap.TimeoutFor(domain.AdapterPattern) != 2*time.Second {
			t.Errorf("expected default pattern timeout, got %s", snap.TimeoutFor(domain.AdapterPattern))
		}
	})

	invalid := []struct {
		name   string
		mutate func(*domain.EngineConfig)
	}{
		{"ZeroAdapterTimeout", func(ec *domain.EngineConfig) { ec.AdapterTimeout = 0 }},
		{"ZeroPhaseDeadline", func(ec *domain.EngineConfig) { ec.PhaseDeadline = 0 }},
		{"UnknownTimeoutAdapter", func(ec *domain.EngineConfig) {
			ec.AdapterTimeouts = map[string]time.Duration{"weather": time.Second}
		}},
		{"BatchOverCap", func(ec *domain.EngineConfig) { ec.BatchMax = MaxBatchSize + 1 }},
		{"NoWorkers", func(ec *domain.EngineConfig) { ec.BatchWorkers = 0 }},
		{"NoFindings", func(ec *domain.EngineConfig) { ec.FindingsLimit = 0 }},
		{"ZeroWeights", func(ec *domain.EngineConfig) { ec.Weights = map[string]float64{"transaction": 0} }},
		{"PositiveFalsePositive", func(ec *domain.EngineConfig) { ec.CostMatrix.FalsePositive = 1 }},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			ec := domain.DefaultEngineConfig()
			tc.mutate(&ec)
			if _, err := NewSnapshot(ec, 1); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestStoreReload(t *testing.T) {
	store, err := NewStore(domain.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := store.Current()

	ec := domain.DefaultEngineConfig()
	ec.FindingsLimit = 5
	next, err := store.Reload(ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Version != first.Version+1 || store.Current() != next {
		t.Errorf("expected version %d to be current, got %d", first.Version+1, store.Current().Version)
	}
	if first.FindingsLimit != 10 {
		t.Errorf("expected old snapshot untouched, got findings limit %d", first.FindingsLimit)
	}

	bad := domain.DefaultEngineConfig()
	bad.CostMatrix.FalseNegative = 0
	if _, err := store.Reload(bad); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if store.Current() != next {
		t.Errorf("expected rejected reload to keep the current snapshot")
	}
}

func TestStoreReloadFile(t *testing.T) {
	store, err := NewStore(domain.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := writeFile(t, "engine:\n  findings_limit: 3\n")

	snap, err := store.ReloadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.FindingsLimit != 3 {
		t.Errorf("expected findings limit 3, got %d", snap.FindingsLimit)
	}
}
