package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/aggregator"
	"github.com/opensource-finance/kestrel/internal/costmodel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxBatchSize is the hard cap on transactions per batch.
const MaxBatchSize = 1000

// Snapshot is a validated, immutable view of the engine settings. A run
// reads one snapshot at its start and keeps it to the end.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time

	Model           *costmodel.Model
	Weights         aggregator.Weights
	AdapterTimeout  time.Duration
	AdapterTimeouts map[domain.Adapter]time.Duration
	PhaseDeadline   time.Duration
	BatchMax        int
	BatchWorkers    int
	FindingsLimit   int
	HistoryWindow   time.Duration
}

// NewSnapshot validates ec. Errors wrap domain.ErrConfiguration.
func NewSnapshot(ec domain.EngineConfig, version int64) (*Snapshot, error) {
	model, err := costmodel.New(ec.CostMatrix)
	if err != nil {
		return nil, err
	}
	weights, err := aggregator.ParseWeights(ec.Weights)
	if err != nil {
		return nil, err
	}

	if ec.AdapterTimeout <= 0 {
		return nil, domain.Configurationf("adapter timeout must be positive, got %s", ec.AdapterTimeout)
	}
	if ec.PhaseDeadline <= 0 {
		return nil, domain.Configurationf("phase deadline must be positive, got %s", ec.PhaseDeadline)
	}
	overrides := make(map[domain.Adapter]time.Duration, len(ec.AdapterTimeouts))
	for name, d := range ec.AdapterTimeouts {
		a := domain.Adapter(name)
		if !a.Valid() {
			return nil, domain.Configurationf("unknown adapter %q in adapter timeouts", name)
		}
		if d <= 0 {
			return nil, domain.Configurationf("timeout for %s must be positive, got %s", name, d)
		}
		overrides[a] = d
	}
	if ec.BatchMax <= 0 || ec.BatchMax > MaxBatchSize {
		return nil, domain.Configurationf("batch max must be in [1, %d], got %d", MaxBatchSize, ec.BatchMax)
	}
	if ec.BatchWorkers <= 0 {
		return nil, domain.Configurationf("batch workers must be positive, got %d", ec.BatchWorkers)
	}
	if ec.FindingsLimit <= 0 {
		return nil, domain.Configurationf("findings limit must be positive, got %d", ec.FindingsLimit)
	}
	if ec.HistoryWindow < 0 {
		return nil, domain.Configurationf("history window must not be negative, got %s", ec.HistoryWindow)
	}

	return &Snapshot{
		Version:         version,
		LoadedAt:        time.Now().UTC(),
		Model:           model,
		Weights:         weights,
		AdapterTimeout:  ec.AdapterTimeout,
		AdapterTimeouts: overrides,
		PhaseDeadline:   ec.PhaseDeadline,
		BatchMax:        ec.BatchMax,
		BatchWorkers:    ec.BatchWorkers,
		FindingsLimit:   ec.FindingsLimit,
		HistoryWindow:   ec.HistoryWindow,
	}, nil
}

// TimeoutFor returns the timeout of adapter a.
func (s *Snapshot) TimeoutFor(a domain.Adapter) time.Duration {
	if d, ok := s.AdapterTimeouts[a]; ok {
		return d
	}
	return s.AdapterTimeout
}

// Store holds the current snapshot. Readers never block; reloads are
// serialized.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewStore validates ec and makes it version 1.
func NewStore(ec domain.EngineConfig) (*Store, error) {
	snap, err := NewSnapshot(ec, 1)
	if err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(snap)
	return s, nil
}

// Current returns the snapshot new runs should use.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload validates ec and swaps it in. On error the current snapshot stays.
func (s *Store) Reload(ec domain.EngineConfig) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := NewSnapshot(ec, s.current.Load().Version+1)
	if err != nil {
		return nil, fmt.Errorf("reload rejected: %w", err)
	}
	s.current.Store(next)
	return next, nil
}

// ReloadFile re-reads the configuration at path and swaps in its engine
// settings.
func (s *Store) ReloadFile(path string) (*Snapshot, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("reload rejected: %w", err)
	}
	return s.Reload(cfg.Engine)
}
