// Package storage persists check results and serves the history,
// trend, and availability queries behind the dashboard.
package storage

import (
	"context"

	"github.com/modelwatch/modelwatch/pkg/models"
)

// MaxPointsPerProvider caps the retained history window per provider
const MaxPointsPerProvider = 60

// Store is the interface all snapshot-store backends implement.
//
// The failure policy is baked into the signatures: reads degrade to
// empty results and writes are swallowed, with the backend logging the
// underlying error itself. Only AvailabilityStats surfaces an error,
// so the aggregator can keep its cache untouched on failure.
//
// allowedIDs restricts reads to a provider id set. A nil slice means
// no restriction; a non-nil empty slice means "nothing", and backends
// must return an empty result without touching storage.
type Store interface {
	Fetch(ctx context.Context, allowedIDs []string) models.HistorySnapshot
	Append(ctx context.Context, results []models.CheckResult)
	Prune(ctx context.Context, retentionDays int)
	LoadTrend(ctx context.Context, period models.Period, allowedIDs []string) models.TrendDataMap
	AvailabilityStats(ctx context.Context) (models.AvailabilityStatsMap, error)
	Close() error
}

// allowedSet converts an id restriction into a lookup set.
// The second return is true when no restriction applies.
func allowedSet(allowedIDs []string) (map[string]struct{}, bool) {
	if allowedIDs == nil {
		return nil, true
	}
	set := make(map[string]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		set[id] = struct{}{}
	}
	return set, false
}

// emptyRestriction reports whether the caller explicitly asked for
// no providers at all.
func emptyRestriction(allowedIDs []string) bool {
	return allowedIDs != nil && len(allowedIDs) == 0
}
