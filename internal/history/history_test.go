package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type stubStore struct {
	mu         sync.Mutex
	saved      []string
	statsCalls int
	graphCalls int
	since      time.Time
	err        error
}

func (s *stubStore) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, tx.ID)
	return nil
}

func (s *stubStore) BeneficiaryStats(ctx context.Context, id string, since time.Time) (*domain.BeneficiaryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	s.since = since
	if s.err != nil {
		return nil, s.err
	}
	return &domain.BeneficiaryStats{BeneficiaryID: id, Count: 4, Total: 400, Average: 100}, nil
}

func (s *stubStore) Neighborhood(ctx context.Context, id string, since time.Time) (*domain.Neighborhood, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphCalls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Neighborhood{EntityID: id, Neighbors: 3, FlaggedNeighbors: 1, SharedProviders: 2}, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, store Store, c domain.Cache) *Service {
	t.Helper()
	settings, err := config.NewStore(domain.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("failed to create settings: %v", err)
	}
	return NewService(store, c, settings, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return fixedNow },
	})
}

func TestBeneficiaryStats(t *testing.T) {
	ctx := context.Background()

	t.Run("CachesAfterFirstRead", func(t *testing.T) {
		store := &stubStore{}
		svc := newService(t, store, cache.NewLRUCache(100))

		for i := 0; i < 3; i++ {
			stats, err := svc.BeneficiaryStats(ctx, "ben-1")
			if err != nil {
				t.Fatalf("BeneficiaryStats failed: %v", err)
			}
			if stats.Average != 100 {
				t.Errorf("expected average 100, got %.2f", stats.Average)
			}
		}
		if store.statsCalls != 1 {
			t.Errorf("expected 1 store call, got %d", store.statsCalls)
		}
	})

	t.Run("UsesHistoryWindow", func(t *testing.T) {
		store := &stubStore{}
		svc := newService(t, store, nil)
		if _, err := svc.BeneficiaryStats(ctx, "ben-1"); err != nil {
			t.Fatalf("BeneficiaryStats failed: %v", err)
		}
		want := fixedNow.Add(-domain.DefaultEngineConfig().HistoryWindow)
		if !store.since.Equal(want) {
			t.Errorf("expected since %s, got %s", want, store.since)
		}
	})

	t.Run("NoCache", func(t *testing.T) {
		store := &stubStore{}
		svc := newService(t, store, nil)
		svc.BeneficiaryStats(ctx, "ben-1")
		svc.BeneficiaryStats(ctx, "ben-1")
		if store.statsCalls != 2 {
			t.Errorf("expected 2 store calls, got %d", store.statsCalls)
		}
	})

	t.Run("StoreError", func(t *testing.T) {
		boom := errors.New("db down")
		svc := newService(t, &stubStore{err: boom}, cache.NewLRUCache(10))
		if _, err := svc.BeneficiaryStats(ctx, "ben-1"); !errors.Is(err, boom) {
			t.Errorf("expected store error, got %v", err)
		}
	})

	t.Run("EmptyID", func(t *testing.T) {
		svc := newService(t, &stubStore{}, nil)
		if _, err := svc.BeneficiaryStats(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestNeighborhood(t *testing.T) {
	ctx := context.Background()
	store := &stubStore{}
	svc := newService(t, store, cache.NewLRUCache(100))

	first, err := svc.Neighborhood(ctx, "ben-1")
	if err != nil {
		t.Fatalf("Neighborhood failed: %v", err)
	}
	second, err := svc.Neighborhood(ctx, "ben-1")
	if err != nil {
		t.Fatalf("Neighborhood failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached neighborhood differs (-first +second):\n%s", diff)
	}
	if store.graphCalls != 1 {
		t.Errorf("expected 1 store call, got %d", store.graphCalls)
	}
}

func TestRecordClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("CountsAndInvalidates", func(t *testing.T) {
		store := &stubStore{}
		svc := newService(t, store, cache.NewLRUCache(100))

		if _, err := svc.BeneficiaryStats(ctx, "ben-1"); err != nil {
			t.Fatalf("BeneficiaryStats failed: %v", err)
		}
		for i, id := range []string{"tx-1", "tx-2"} {
			count, err := svc.RecordClaim(ctx, &domain.Transaction{ID: id, BeneficiaryID: "ben-1"})
			if err != nil {
				t.Fatalf("RecordClaim failed: %v", err)
			}
			if count != int64(i+1) {
				t.Errorf("expected count %d, got %d", i+1, count)
			}
		}
		if _, err := svc.BeneficiaryStats(ctx, "ben-1"); err != nil {
			t.Fatalf("BeneficiaryStats failed: %v", err)
		}
		if store.statsCalls != 2 {
			t.Errorf("expected stats reloaded after a recorded claim, got %d store calls", store.statsCalls)
		}
		if len(store.saved) != 2 {
			t.Errorf("expected 2 saved transactions, got %d", len(store.saved))
		}
	})

	t.Run("NoBeneficiary", func(t *testing.T) {
		svc := newService(t, &stubStore{}, cache.NewLRUCache(10))
		count, err := svc.RecordClaim(ctx, &domain.Transaction{ID: "tx-1"})
		if err != nil {
			t.Fatalf("RecordClaim failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0, got %d", count)
		}
	})

	t.Run("SaveError", func(t *testing.T) {
		boom := errors.New("disk full")
		svc := newService(t, &stubStore{err: boom}, cache.NewLRUCache(10))
		if _, err := svc.RecordClaim(ctx, &domain.Transaction{ID: "tx-1", BeneficiaryID: "b"}); !errors.Is(err, boom) {
			t.Errorf("expected save error, got %v", err)
		}
	})
}

func TestClaimCount(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadsRecordedClaims", func(t *testing.T) {
		svc := newService(t, &stubStore{}, cache.NewLRUCache(100))

		if got, err := svc.ClaimCount(ctx, "ben-1"); err != nil || got != 0 {
			t.Errorf("expected 0 before any claim, got %d (%v)", got, err)
		}
		for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
			if _, err := svc.RecordClaim(ctx, &domain.Transaction{ID: id, BeneficiaryID: "ben-1"}); err != nil {
				t.Fatalf("RecordClaim failed: %v", err)
			}
		}
		got, err := svc.ClaimCount(ctx, "ben-1")
		if err != nil {
			t.Fatalf("ClaimCount failed: %v", err)
		}
		if got != 3 {
			t.Errorf("expected 3 claims, got %d", got)
		}
		if again, _ := svc.ClaimCount(ctx, "ben-1"); again != 3 {
			t.Errorf("expected reading to leave the count at 3, got %d", again)
		}
	})

	t.Run("NoCache", func(t *testing.T) {
		svc := newService(t, &stubStore{}, nil)
		if _, err := svc.ClaimCount(ctx, "ben-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound without a counter backend, got %v", err)
		}
	})

	t.Run("MissingBeneficiary", func(t *testing.T) {
		svc := newService(t, &stubStore{}, cache.NewLRUCache(10))
		if _, err := svc.ClaimCount(ctx, ""); domain.CodeOf(err) != domain.CodeInvalidInput {
			t.Errorf("expected INVALID_INPUT, got %v", err)
		}
	})
}
