// Package history serves beneficiary history and claims-graph lookups from
// the repository, with cache-aside reads.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ClaimWindow is the span of the per-beneficiary claim counter.
const ClaimWindow = 30 * 24 * time.Hour

// DefaultTTL is how long lookups stay cached when Options.TTL is unset.
const DefaultTTL = 5 * time.Minute

// Store is the part of the repository history reads from.
type Store interface {
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	BeneficiaryStats(ctx context.Context, beneficiaryID string, since time.Time) (*domain.BeneficiaryStats, error)
	Neighborhood(ctx context.Context, entityID string, since time.Time) (*domain.Neighborhood, error)
}

// Settings supplies the current history window.
type Settings interface {
	Current() *config.Snapshot
}

// Options configures a Service.
type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Service implements domain.HistoryProvider and domain.GraphClient.
type Service struct {
	store    Store
	cache    domain.Cache
	settings Settings
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a history service. A nil cache disables caching.
func NewService(store Store, c domain.Cache, settings Settings, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		cache:    c,
		settings: settings,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// since returns the start of the lookup window. A zero window is unbounded.
func (s *Service) since() time.Time {
	window := s.settings.Current().HistoryWindow
	if window <= 0 {
		return time.Unix(0, 0)
	}
	return s.now().Add(-window)
}

// BeneficiaryStats implements domain.HistoryProvider.
func (s *Service) BeneficiaryStats(ctx context.Context, beneficiaryID string) (*domain.BeneficiaryStats, error) {
	if beneficiaryID == "" {
		return nil, domain.InvalidInputf("beneficiary id is required")
	}
	return lookup(ctx, s, statsKey(beneficiaryID), func() (*domain.BeneficiaryStats, error) {
		return s.store.BeneficiaryStats(ctx, beneficiaryID, s.since())
	})
}

// ClaimCount implements domain.HistoryProvider. It reads the counter
// RecordClaim maintains, so the count covers earlier claims only.
func (s *Service) ClaimCount(ctx context.Context, beneficiaryID string) (int64, error) {
	if beneficiaryID == "" {
		return 0, domain.InvalidInputf("beneficiary id is required")
	}
	if s.cache == nil {
		return 0, fmt.Errorf("claim counter %s: %w", beneficiaryID, domain.ErrNotFound)
	}
	count, err := s.cache.Counter(ctx, claimsKey(beneficiaryID))
	if err != nil {
		return 0, fmt.Errorf("claim counter %s: %w", beneficiaryID, err)
	}
	return count, nil
}

// Neighborhood implements domain.GraphClient.
func (s *Service) Neighborhood(ctx context.Context, entityID string) (*domain.Neighborhood, error) {
	if entityID == "" {
		return nil, domain.InvalidInputf("entity id is required")
	}
	return lookup(ctx, s, graphKey(entityID), func() (*domain.Neighborhood, error) {
		return s.store.Neighborhood(ctx, entityID, s.since())
	})
}

// RecordClaim stores tx, bumps the beneficiary's claim counter and drops the
// cached views it changes. It returns the counter's new value, or 0 when the
// transaction has no beneficiary.
func (s *Service) RecordClaim(ctx context.Context, tx *domain.Transaction) (int64, error) {
	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		return 0, err
	}
	if tx.BeneficiaryID == "" || s.cache == nil {
		return 0, nil
	}

	for _, key := range []string{statsKey(tx.BeneficiaryID), graphKey(tx.BeneficiaryID)} {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("history cache invalidation failed", "key", key, "error", err)
		}
	}

	count, err := s.cache.IncrementCounter(ctx, claimsKey(tx.BeneficiaryID), ClaimWindow)
	if err != nil {
		return 0, fmt.Errorf("claim counter %s: %w", tx.BeneficiaryID, err)
	}
	s.logger.Debug("claim recorded",
		"tx_id", tx.ID,
		"beneficiary_id", tx.BeneficiaryID,
		"claims_30d", count,
	)
	return count, nil
}

// lookup reads key from the cache, falling back to load on a miss. Cache
// failures are logged and never fail the lookup.
func lookup[T any](ctx context.Context, s *Service, key string, load func() (*T, error)) (*T, error) {
	if s.cache != nil {
		v, err := cache.GetJSON[T](ctx, s.cache, key)
		if err != nil {
			s.logger.Warn("history cache read failed", "key", key, "error", err)
		}
		if v != nil {
			return v, nil
		}
	}

	v, err := load()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, v, s.ttl); err != nil {
			s.logger.Warn("history cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}

func statsKey(id string) string  { return "history:stats:" + id }
func graphKey(id string) string  { return "history:graph:" + id }
func claimsKey(id string) string { return "history:claims:" + id }
