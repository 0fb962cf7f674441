package storage

import (
	"context"

	"github.com/modelwatch/modelwatch/pkg/models"
)

// NoopStore discards all writes and serves empty reads. Used when the
// deployment only wants live checks and Prometheus metrics, with no
// history at all.
type NoopStore struct{}

// NewNoopStore creates a store that retains nothing
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (ns *NoopStore) Fetch(ctx context.Context, allowedIDs []string) models.HistorySnapshot {
	return make(models.HistorySnapshot)
}

func (ns *NoopStore) Append(ctx context.Context, results []models.CheckResult) {}

func (ns *NoopStore) Prune(ctx context.Context, retentionDays int) {}

func (ns *NoopStore) LoadTrend(ctx context.Context, period models.Period, allowedIDs []string) models.TrendDataMap {
	return make(models.TrendDataMap)
}

func (ns *NoopStore) AvailabilityStats(ctx context.Context) (models.AvailabilityStatsMap, error) {
	return make(models.AvailabilityStatsMap), nil
}

func (ns *NoopStore) Close() error {
	return nil
}
