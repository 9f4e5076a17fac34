package main

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// engineDeps are the optional backends of the scoring adapters. Without a
// graph the network adapter is not registered and runs report it skipped.
type engineDeps struct {
	History  domain.HistoryProvider
	Graph    domain.GraphClient
	Recorder orchestrator.Recorder
	Logger   *slog.Logger
}

// loadPatterns compiles the pattern library named in cfg, or the built-in
// one when no file is configured.
func loadPatterns(cfg *domain.Config) (*patterns.Engine, error) {
	engine, err := patterns.NewEngine(cfg.Engine.BatchWorkers)
	if err != nil {
		return nil, err
	}

	library := patterns.Builtin()
	if cfg.PatternsFile != "" {
		library, err = patterns.LoadFile(cfg.PatternsFile)
		if err != nil {
			return nil, domain.Configurationf("pattern library %s: %v", cfg.PatternsFile, err)
		}
	}
	if err := engine.Load(library); err != nil {
		return nil, fmt.Errorf("load pattern library: %w", err)
	}
	return engine, nil
}

// buildScorers registers every adapter the deployment can back.
func buildScorers(cfg *domain.Config, deps engineDeps) ([]domain.Scorer, error) {
	library, err := loadPatterns(cfg)
	if err != nil {
		return nil, err
	}

	profiler := scoring.NewProfiler(deps.History, deps.Logger)
	scorers := []domain.Scorer{
		scoring.NewTransactionScorer(profiler, nil),
		scoring.NewDocumentScorer(scoring.MetadataInspector{}),
		scoring.NewPatternScorer(library, profiler),
		scoring.NewIdentityScorer(scoring.NewLocalRegistry(cfg.Identity.Sanctions)),
	}
	if deps.Graph != nil {
		scorers = append(scorers, scoring.NewNetworkScorer(deps.Graph))
	}

	deps.Logger.Info("scoring adapters registered",
		"adapters", len(scorers),
		"patterns", library.Count(),
	)
	return scorers, nil
}

// newOrchestrator wires the scorers, the explainer and the recorder around
// the engine settings held by store.
func newOrchestrator(cfg *domain.Config, store *config.Store, deps engineDeps) (*orchestrator.Orchestrator, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	scorers, err := buildScorers(cfg, deps)
	if err != nil {
		return nil, err
	}

	builder := explain.NewBuilder()
	return orchestrator.New(orchestrator.Options{
		Scorers:   scorers,
		Settings:  store,
		Explainer: builder,
		Reporter:  builder,
		Recorder:  deps.Recorder,
		Logger:    deps.Logger,
	})
}
