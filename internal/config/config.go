// Package config loads Kestrel's configuration from a YAML file and the
// environment, and holds the engine settings runs read from.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment variable Kestrel reads.
const EnvPrefix = "KESTREL_"

// Load builds the configuration: defaults for the tier, then the YAML file
// at path (optional), then KESTREL_* environment variables. The result is
// validated.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays KESTREL_* environment variables onto cfg.
func ParseEnv(cfg *domain.Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func decodeFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	// A weights map in the file replaces the defaults instead of merging.
	defaults := cfg.Engine.Weights
	cfg.Engine.Weights = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Engine.Weights == nil {
		cfg.Engine.Weights = defaults
	}
	return nil
}

// Validate checks the whole configuration. Errors wrap domain.ErrConfiguration.
func Validate(cfg *domain.Config) error {
	if _, err := NewSnapshot(cfg.Engine, 0); err != nil {
		return err
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return domain.Configurationf("server port %d out of range", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return domain.Configurationf("unknown repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return domain.Configurationf("unknown cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return domain.Configurationf("unknown event bus type %q", cfg.EventBus.Type)
	}
	if _, ok := domain.ParseRiskLevel(cfg.Notify.MinRiskLevel); !ok {
		return domain.Configurationf("unknown notification risk level %q", cfg.Notify.MinRiskLevel)
	}
	if cfg.Audit.QueueSize <= 0 || cfg.Audit.MaxAttempts <= 0 {
		return domain.Configurationf("audit queue size and max attempts must be positive")
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
		return domain.Configurationf("tracing requires a service name")
	}
	return nil
}

// ParseLevel maps a logging level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, domain.Configurationf("unknown log level %q", level)
	}
}
