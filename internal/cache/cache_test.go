package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLRU(size int) (*LRUCache, *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clk.now
	return c, clk
}

func TestLRUCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		cache, _ := newTestLRU(10)
		if err := cache.Set(ctx, "history:ben-1", []byte("stats"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := cache.Get(ctx, "history:ben-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "stats" {
			t.Errorf("expected 'stats', got '%s'", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		cache, _ := newTestLRU(10)
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil || val != nil {
			t.Errorf("expected nil, nil for a miss, got %v, %v", val, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		cache, _ := newTestLRU(10)
		_ = cache.Set(ctx, "key", []byte("value"), time.Minute)
		if err := cache.Delete(ctx, "key"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, "key"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		cache, clk := newTestLRU(10)
		_ = cache.Set(ctx, "expiring", []byte("temp"), time.Minute)

		clk.t = clk.t.Add(59 * time.Second)
		if val, _ := cache.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiry")
		}
		clk.t = clk.t.Add(2 * time.Second)
		if val, _ := cache.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiry")
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		cache, clk := newTestLRU(10)
		_ = cache.Set(ctx, "forever", []byte("v"), 0)
		clk.t = clk.t.Add(24 * 365 * time.Hour)
		if val, _ := cache.Get(ctx, "forever"); val == nil {
			t.Error("expected value without ttl to persist")
		}
	})

	t.Run("EvictsLeastRecentlyUsed", func(t *testing.T) {
		cache, _ := newTestLRU(2)
		_ = cache.Set(ctx, "a", []byte("1"), 0)
		_ = cache.Set(ctx, "b", []byte("2"), 0)
		_, _ = cache.Get(ctx, "a")
		_ = cache.Set(ctx, "c", []byte("3"), 0)

		if val, _ := cache.Get(ctx, "b"); val != nil {
			t.Error("expected b to be evicted")
		}
		if val, _ := cache.Get(ctx, "a"); val == nil {
			t.Error("expected a to survive")
		}
		if size, capacity := cache.Stats(); size != 2 || capacity != 2 {
			t.Errorf("expected 2/2, got %d/%d", size, capacity)
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		cache, clk := newTestLRU(10)
		for want := int64(1); want <= 3; want++ {
			got, err := cache.IncrementCounter(ctx, "claims:ben-1", time.Hour)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}

		clk.t = clk.t.Add(2 * time.Hour)
		got, _ := cache.IncrementCounter(ctx, "claims:ben-1", time.Hour)
		if got != 1 {
			t.Errorf("expected a new window to restart at 1, got %d", got)
		}
	})

	t.Run("Counter", func(t *testing.T) {
		cache, clk := newTestLRU(10)
		if got, err := cache.Counter(ctx, "claims:ben-2"); err != nil || got != 0 {
			t.Errorf("expected 0 for a missing counter, got %d (%v)", got, err)
		}

		_, _ = cache.IncrementCounter(ctx, "claims:ben-2", time.Hour)
		_, _ = cache.IncrementCounter(ctx, "claims:ben-2", time.Hour)
		for i := 0; i < 2; i++ {
			if got, _ := cache.Counter(ctx, "claims:ben-2"); got != 2 {
				t.Errorf("expected reads to leave the counter at 2, got %d", got)
			}
		}

		clk.t = clk.t.Add(2 * time.Hour)
		if got, _ := cache.Counter(ctx, "claims:ben-2"); got != 0 {
			t.Errorf("expected an expired counter to read 0, got %d", got)
		}
	})

	t.Run("Close", func(t *testing.T) {
		cache, _ := newTestLRU(10)
		_ = cache.Set(ctx, "k", []byte("v"), 0)
		if err := cache.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if size, _ := cache.Stats(); size != 0 {
			t.Errorf("expected empty cache after close, got %d", size)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestLRU(10)

	stats := &domain.BeneficiaryStats{BeneficiaryID: "ben-1", Count: 4, Total: 400, Average: 100}
	if err := SetJSON(ctx, cache, "history:ben-1", stats, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	got, err := GetJSON[domain.BeneficiaryStats](ctx, cache, "history:ben-1")
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if diff := cmp.Diff(stats, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	miss, err := GetJSON[domain.BeneficiaryStats](ctx, cache, "history:nobody")
	if err != nil || miss != nil {
		t.Errorf("expected nil, nil on a miss, got %v, %v", miss, err)
	}

	_ = cache.Set(ctx, "history:broken", []byte("{"), 0)
	if _, err := GetJSON[domain.BeneficiaryStats](ctx, cache, "history:broken"); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewCache(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()
		if _, ok := c.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
