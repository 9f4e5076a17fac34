package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the submission worker and the audit emitter",
		Long: `Run the decision service.

SIGHUP reloads the engine settings from the configuration file. SIGINT and
SIGTERM drain in-flight requests and pending audit records before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, g.configPath, !noWorker, logger)
		},
	}

	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not consume transactions from the event bus")
	return cmd
}

func serve(ctx context.Context, cfg *domain.Config, configPath string, runWorker bool, logger *slog.Logger) error {
	logger.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"engine_version", domain.EngineVersion,
	)
	logger.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}

	store, err := config.NewStore(cfg.Engine)
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	logger.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	logger.Info("event bus initialized", "type", cfg.EventBus.Type)

	hist := history.NewService(repo, cacheImpl, store, history.Options{
		TTL:    cfg.Cache.LocalTTL,
		Logger: logger,
	})

	emitter, err := newEmitter(cfg, repo, busImpl, logger)
	if err != nil {
		return err
	}

	engine, err := newOrchestrator(cfg, store, engineDeps{
		History:  hist,
		Graph:    hist,
		Recorder: emitter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var w *worker.Worker
	if runWorker {
		w = worker.NewWorker(busImpl, engine, hist, logger)
		if err := w.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		logger.Info("submission worker started", "topic", domain.TopicTransactionSubmitted)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:     engine,
		Settings:   store,
		Decisions:  repo,
		Claims:     hist,
		Cache:      cacheImpl,
		Bus:        busImpl,
		ConfigPath: configPath,
		Version:    Version,
		Logger:     logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	logger.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"config_version", store.Current().Version,
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-hup:
			reload(store, configPath, logger)
		case err, ok := <-serverErr:
			if ok {
				runErr = fmt.Errorf("server failed: %w", err)
			}
			break loop
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if w != nil {
		if err := w.Stop(); err != nil {
			logger.Error("failed to stop worker", "error", err)
		}
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Error("audit emitter did not drain", "error", err, "dropped", emitter.Dropped())
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	logger.Info("kestrel shutdown complete",
		"audit_dropped", emitter.Dropped(),
		"audit_failed", emitter.Failed(),
	)
	return runErr
}

// newEmitter sends every decision to the repository and, when enabled, to
// the bus. Alerts go to the bus and the log.
func newEmitter(cfg *domain.Config, repo *repository.SQLRepository, b domain.EventBus, logger *slog.Logger) (*audit.Emitter, error) {
	opts, err := audit.OptionsFrom(cfg.Audit, cfg.Notify)
	if err != nil {
		return nil, err
	}
	opts.Logger = logger

	sinks := []domain.AuditSink{audit.NewRepositorySink(repo)}
	if cfg.Audit.PublishDecisions {
		sinks = append(sinks, audit.NewBusSink(b))
	}
	notifiers := []domain.NotificationSink{
		audit.NewBusNotifier(b),
		audit.NewLogNotifier(logger),
	}
	return audit.NewEmitter(sinks, notifiers, opts), nil
}

func reload(store *config.Store, configPath string, logger *slog.Logger) {
	if configPath == "" {
		logger.Warn("SIGHUP ignored: no configuration file")
		return
	}
	snap, err := store.ReloadFile(configPath)
	if err != nil {
		logger.Error("configuration reload rejected",
			"path", configPath,
			"error", err,
			"config_version", store.Current().Version,
		)
		return
	}
	logger.Info("configuration reloaded",
		"path", configPath,
		"config_version", snap.Version,
	)
}
