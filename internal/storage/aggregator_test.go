package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelwatch/modelwatch/pkg/models"
)

// stubStore counts availability queries and can be told to fail
type stubStore struct {
	NoopStore
	stats models.AvailabilityStatsMap
	err   error
	calls int
}

func (s *stubStore) AvailabilityStats(ctx context.Context) (models.AvailabilityStatsMap, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.stats, nil
}

func sampleStats() models.AvailabilityStatsMap {
	pct := 99.2
	return models.AvailabilityStatsMap{
		"claude": {{Period: models.Period7d, TotalChecks: 100, OperationalCount: 99, AvailabilityPct: &pct}},
		"gemini": {{Period: models.Period7d, TotalChecks: 50, OperationalCount: 50, AvailabilityPct: &pct}},
	}
}

func TestAggregatorServesFromCacheWithinTTL(t *testing.T) {
	store := &stubStore{stats: sampleStats()}
	agg := NewAggregator(store, time.Minute, testLogger(t))
	ctx := context.Background()

	first := agg.GetStats(ctx, nil)
	second := agg.GetStats(ctx, nil)

	if store.calls != 1 {
		t.Fatalf("expected 1 store query within TTL, got %d", store.calls)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Errorf("expected full stats both times, got %d and %d providers", len(first), len(second))
	}
}

func TestAggregatorRefreshesAfterTTL(t *testing.T) {
	store := &stubStore{stats: sampleStats()}
	agg := NewAggregator(store, 10*time.Millisecond, testLogger(t))
	ctx := context.Background()

	agg.GetStats(ctx, nil)
	time.Sleep(20 * time.Millisecond)
	agg.GetStats(ctx, nil)

	if store.calls != 2 {
		t.Fatalf("expected a refresh after TTL expiry, got %d store queries", store.calls)
	}
}

func TestAggregatorFiltersToRequestedIDs(t *testing.T) {
	store := &stubStore{stats: sampleStats()}
	agg := NewAggregator(store, time.Minute, testLogger(t))

	stats := agg.GetStats(context.Background(), []string{"claude"})
	if len(stats) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(stats))
	}
	if _, ok := stats["claude"]; !ok {
		t.Error("expected claude stats to survive the filter")
	}
}

func TestAggregatorEmptyIDSetSkipsStore(t *testing.T) {
	store := &stubStore{stats: sampleStats()}
	agg := NewAggregator(store, time.Minute, testLogger(t))

	stats := agg.GetStats(context.Background(), []string{})
	if len(stats) != 0 {
		t.Errorf("explicit empty id set must return empty, got %v", stats)
	}
	if store.calls != 0 {
		t.Errorf("explicit empty id set must not query the store, got %d calls", store.calls)
	}
}

func TestAggregatorStoreFailureLeavesCacheUntouched(t *testing.T) {
	store := &stubStore{stats: sampleStats()}
	agg := NewAggregator(store, 10*time.Millisecond, testLogger(t))
	ctx := context.Background()

	agg.GetStats(ctx, nil)
	time.Sleep(20 * time.Millisecond)

	store.err = errors.New("connection refused")
	failed := agg.GetStats(ctx, nil)
	if len(failed) != 0 {
		t.Errorf("failed refresh should serve empty stats, got %v", failed)
	}

	// The stale cache survives: once the store recovers it is
	// overwritten, not merged.
	store.err = nil
	recovered := agg.GetStats(ctx, nil)
	if len(recovered) != 2 {
		t.Errorf("expected recovery to serve fresh stats, got %v", recovered)
	}
}

func TestAggregatorInvalidate(t *testing.T) {
	store := &stubStore{stats: sampleStats()}
	agg := NewAggregator(store, time.Hour, testLogger(t))
	ctx := context.Background()

	agg.GetStats(ctx, nil)
	agg.Invalidate()
	agg.GetStats(ctx, nil)

	if store.calls != 2 {
		t.Fatalf("expected invalidation to force a re-query, got %d calls", store.calls)
	}
}
