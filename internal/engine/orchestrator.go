// ABOUTME: Lookup orchestrator fanning oracle queries out over a bounded worker pool.
// ABOUTME: Collects outcomes in input order and reports unfinished lookups as timeouts on cancellation.

package engine

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/jfeddern/VulnAgent/internal/cache"
	"github.com/jfeddern/VulnAgent/internal/inventory"
	"github.com/jfeddern/VulnAgent/internal/oracle"
	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

// DefaultMaxConcurrency bounds in-flight oracle requests when not configured
const DefaultMaxConcurrency = 10

// Oracle abstracts the vulnerability knowledge base queried per product
type Oracle interface {
	Name() string
	Lookup(ctx context.Context, product, version string) types.LookupOutcome
}

// Orchestrator is the only component that issues concurrent oracle lookups
type Orchestrator struct {
	oracle         Oracle
	maxConcurrency int
	logger         *logrus.Logger
}

// NewOrchestrator creates an orchestrator allowing at most maxConcurrency in-flight lookups
func NewOrchestrator(oracle Oracle, maxConcurrency int, logger *logrus.Logger) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Orchestrator{
		oracle:         oracle,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

type lookupJob struct {
	category types.Category
	index    int
	item     types.InventoryItem
}

type lookupResult struct {
	lookupJob
	outcome types.LookupOutcome
}

// Run looks up every item and returns one report per item, in bucket order
func (o *Orchestrator) Run(ctx context.Context, buckets inventory.Buckets) map[types.Category][]types.ProductReport {
	logger := o.logger.WithFields(logrus.Fields{
		"operation": "run_lookups",
		"oracle":    o.oracle.Name(),
	})
	startTime := time.Now()

	reports := make(map[types.Category][]types.ProductReport, len(buckets))
	var jobs []lookupJob
	for _, category := range slices.Sorted(maps.Keys(buckets)) {
		items := buckets[category]
		reports[category] = make([]types.ProductReport, len(items))
		for i, item := range items {
			reports[category][i] = types.ProductReport{Product: item.Product, Version: item.Version}
			jobs = append(jobs, lookupJob{category: category, index: i, item: item})
		}
	}

	if len(jobs) == 0 {
		return reports
	}

	lookups := cache.NewLookupCache(o.logger)
	results := make(chan lookupResult, len(jobs)) // buffered so abandoned workers never block
	semaphore := make(chan struct{}, o.maxConcurrency)

	go func() {
		for _, job := range jobs {
			select {
			case semaphore <- struct{}{}: // Acquire semaphore
			case <-ctx.Done():
				return
			}

			go func(j lookupJob) {
				defer func() { <-semaphore }() // Release semaphore

				key := oracle.QueryKey(j.item.Product, j.item.Version)
				outcome, _ := lookups.Do(key, func() types.LookupOutcome {
					return o.oracle.Lookup(ctx, j.item.Product, j.item.Version)
				})
				results <- lookupResult{lookupJob: j, outcome: outcome}
			}(job)
		}
	}()

	completed := make(map[types.Category][]bool, len(reports))
	for category, items := range reports {
		completed[category] = make([]bool, len(items))
	}
	record := func(r lookupResult) {
		reports[r.category][r.index].Outcome = r.outcome
		completed[r.category][r.index] = true
	}

	received := 0
collect:
	for received < len(jobs) {
		select {
		case r := <-results:
			record(r)
			received++
		case <-ctx.Done():
			break collect
		}
	}

	if received < len(jobs) {
	drain:
		for {
			select {
			case r := <-results:
				record(r)
				received++
			default:
				break drain
			}
		}
	}

	if received < len(jobs) {
		abandoned := 0
		for category, flags := range completed {
			for i, done := range flags {
				if !done {
					reports[category][i].Outcome = types.LookupFailed(types.ReasonTimeout, ctx.Err().Error())
					abandoned++
				}
			}
		}
		logger.WithError(ctx.Err()).WithField("abandoned_lookups", abandoned).Warn("Lookups cancelled before completion")
	}

	distinct, shared := lookups.Stats()
	failed := 0
	for _, items := range reports {
		for _, r := range items {
			if r.Outcome.IsFailed() {
				failed++
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"duration":         time.Since(startTime),
		"items":            len(jobs),
		"distinct_queries": distinct,
		"shared_results":   shared,
		"failed_lookups":   failed,
		"max_concurrency":  o.maxConcurrency,
	}).Info("Vulnerability lookups completed")

	return reports
}
