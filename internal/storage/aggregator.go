package storage

import (
	"context"
	"sync"
	"time"

	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/pkg/models"
)

// Aggregator serves availability statistics from a process-wide cache
// refreshed at most once per polling interval. A store failure leaves
// the previous cache in place and serves empty stats for that call.
type Aggregator struct {
	store  Store
	logger *logging.Logger
	ttl    time.Duration

	mu        sync.RWMutex
	cached    models.AvailabilityStatsMap
	fetchedAt time.Time
}

// NewAggregator creates an aggregator whose cache TTL matches the
// polling interval, so stats refresh at most once per poll cycle.
func NewAggregator(store Store, pollingInterval time.Duration, logger *logging.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.WithComponent(logging.ComponentAggregator),
		ttl:    pollingInterval,
	}
}

// GetStats returns availability statistics, optionally restricted to an
// id set. An explicit empty set returns empty without touching the
// cache or the store.
func (a *Aggregator) GetStats(ctx context.Context, allowedIDs []string) models.AvailabilityStatsMap {
	if emptyRestriction(allowedIDs) {
		return make(models.AvailabilityStatsMap)
	}

	a.mu.RLock()
	cached, fetchedAt := a.cached, a.fetchedAt
	a.mu.RUnlock()

	if len(cached) > 0 && time.Since(fetchedAt) < a.ttl {
		return filterStats(cached, allowedIDs)
	}

	fresh, err := a.store.AvailabilityStats(ctx)
	if err != nil {
		a.logger.WithError(err).Error("Failed to refresh availability stats")
		return make(models.AvailabilityStatsMap)
	}

	a.mu.Lock()
	a.cached = fresh
	a.fetchedAt = time.Now()
	a.mu.Unlock()

	return filterStats(fresh, allowedIDs)
}

// Invalidate drops the cache so the next call re-queries the store
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.fetchedAt = time.Time{}
	a.mu.Unlock()
}

func filterStats(stats models.AvailabilityStatsMap, allowedIDs []string) models.AvailabilityStatsMap {
	set, unrestricted := allowedSet(allowedIDs)

	out := make(models.AvailabilityStatsMap, len(stats))
	for id, providerStats := range stats {
		if !unrestricted {
			if _, ok := set[id]; !ok {
				continue
			}
		}
		out[id] = providerStats
	}
	return out
}
