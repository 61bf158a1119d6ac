// ABOUTME: Unit tests for the per-run lookup cache.
// ABOUTME: Tests result sharing, in-flight collapsing and statistics.

package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jfeddern/VulnAgent/internal/types"

	"github.com/sirupsen/logrus"
)

// completed returns the finished outcome for key, nil if absent or still in flight
func completed(c *LookupCache, key string) *types.LookupOutcome {
	c.mutex.Lock()
	entry, exists := c.cache[key]
	c.mutex.Unlock()
	if !exists {
		return nil
	}

	select {
	case <-entry.done:
		outcome := entry.outcome
		return &outcome
	default:
		return nil
	}
}

func TestLookupCache(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cache := NewLookupCache(logger)

	vulnerable := types.Vulnerable([]types.VulnerabilityRecord{{ID: "CVE-2014-0160", Kind: types.KindCVE}})
	calls := 0
	lookup := func() types.LookupOutcome {
		calls++
		return vulnerable
	}

	t.Run("cache miss", func(t *testing.T) {
		if result := completed(cache, "openssl/1.0.1"); result != nil {
			t.Error("Expected cache miss, but got result")
		}
	})

	t.Run("first call performs lookup", func(t *testing.T) {
		outcome, shared := cache.Do("openssl/1.0.1", lookup)
		if shared {
			t.Error("Expected first call not to be shared")
		}
		if !outcome.IsVulnerable() {
			t.Errorf("Expected vulnerable outcome, got %s", outcome.Status)
		}
	})

	t.Run("second call is shared", func(t *testing.T) {
		outcome, shared := cache.Do("openssl/1.0.1", lookup)
		if !shared {
			t.Error("Expected second call to be shared")
		}
		if len(outcome.Records) != 1 || outcome.Records[0].ID != "CVE-2014-0160" {
			t.Errorf("Unexpected shared outcome: %+v", outcome)
		}
		if calls != 1 {
			t.Errorf("Expected 1 lookup, got %d", calls)
		}
	})

	t.Run("cache hit", func(t *testing.T) {
		result := completed(cache, "openssl/1.0.1")
		if result == nil {
			t.Fatal("Expected cache hit, but got nil")
		}
		if result.Status != types.OutcomeVulnerable {
			t.Errorf("Status mismatch: got %s", result.Status)
		}
	})

	t.Run("cache stats", func(t *testing.T) {
		total, shared := cache.Stats()
		if total != 1 {
			t.Errorf("Expected 1 cache entry, got %d", total)
		}
		if shared != 1 {
			t.Errorf("Expected 1 shared result, got %d", shared)
		}
	})
}

func TestLookupCacheCollapsesConcurrentCalls(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cache := NewLookupCache(logger)

	var calls int32
	release := make(chan struct{})
	lookup := func() types.LookupOutcome {
		atomic.AddInt32(&calls, 1)
		<-release
		return types.Clean()
	}

	var wg sync.WaitGroup
	results := make([]types.LookupOutcome, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = cache.Do("coreutils/8.30", lookup)
		}(i)
	}

	// Give every goroutine a chance to reach the cache before releasing the lookup
	time.Sleep(50 * time.Millisecond)
	if result := completed(cache, "coreutils/8.30"); result != nil {
		t.Error("Expected in-flight entry not to be completed")
	}
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected exactly 1 lookup, got %d", n)
	}
	for i, r := range results {
		if r.Status != types.OutcomeClean {
			t.Errorf("result %d: expected clean, got %s", i, r.Status)
		}
	}
}
