// ABOUTME: Per-run lookup cache that collapses identical oracle queries into one request.
// ABOUTME: Concurrent callers for the same key wait for the first lookup and share its outcome.

package cache

import (
	"sync"

	"github.com/jfeddern/VulnAgent/internal/types"

	"github.com/sirupsen/logrus"
)

type cacheEntry struct {
	outcome types.LookupOutcome
	done    chan struct{}
}

// LookupCache lives for a single pipeline run and is never shared across runs
type LookupCache struct {
	cache  map[string]*cacheEntry
	mutex  sync.Mutex
	shared int
	logger *logrus.Logger
}

func NewLookupCache(logger *logrus.Logger) *LookupCache {
	return &LookupCache{
		cache:  make(map[string]*cacheEntry),
		logger: logger,
	}
}

// Do returns the outcome for key, calling lookup only if no other caller has.
// The second result is true when the outcome came from an earlier call.
func (c *LookupCache) Do(key string, lookup func() types.LookupOutcome) (types.LookupOutcome, bool) {
	c.mutex.Lock()
	if entry, exists := c.cache[key]; exists {
		c.shared++
		c.mutex.Unlock()

		<-entry.done
		c.logger.WithField("query", key).Debug("Cache hit")
		return entry.outcome, true
	}

	entry := &cacheEntry{done: make(chan struct{})}
	c.cache[key] = entry
	c.mutex.Unlock()

	entry.outcome = lookup()
	close(entry.done)

	return entry.outcome, false
}

// Stats returns the number of distinct queries and the number of shared results
func (c *LookupCache) Stats() (total int, shared int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.cache), c.shared
}
