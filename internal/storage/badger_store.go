package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/internal/metrics"
	"github.com/modelwatch/modelwatch/pkg/models"
)

// BadgerStore is the embedded snapshot-store backend. Rows carry a TTL
// equal to the retention window, so most pruning happens passively.
type BadgerStore struct {
	db            *badger.DB
	logger        *logging.Logger
	metrics       *metrics.Metrics
	retentionDays int
	stopGC        chan struct{}
}

const (
	resultKeyPrefix   = "result"
	timestampKeyWidth = 20
)

func formatTimestampKey(ts int64) string {
	return fmt.Sprintf("%0*d", timestampKeyWidth, ts)
}

func resultKey(providerID string, ts int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", resultKeyPrefix, providerID, formatTimestampKey(ts)))
}

func providerPrefix(providerID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", resultKeyPrefix, providerID))
}

// NewBadgerStore opens or creates the embedded database at path.
// An empty path opens an in-memory database, used by tests.
func NewBadgerStore(path string, retentionDays int, logger *logging.Logger, m *metrics.Metrics) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	store := &BadgerStore{
		db:            db,
		logger:        logger.WithComponent(logging.ComponentStorage),
		metrics:       m,
		retentionDays: retentionDays,
		stopGC:        make(chan struct{}),
	}
	go store.runGC()

	store.logger.WithFields(map[string]interface{}{
		"path":          path,
		"retentionDays": retentionDays,
	}).Info("BadgerDB snapshot store initialized")

	return store, nil
}

// Fetch returns the newest results per provider, newest first
func (bs *BadgerStore) Fetch(ctx context.Context, allowedIDs []string) models.HistorySnapshot {
	snapshot := make(models.HistorySnapshot)
	if emptyRestriction(allowedIDs) {
		return snapshot
	}

	ids := allowedIDs
	if ids == nil {
		var err error
		ids, err = bs.providerIDs()
		if err != nil {
			bs.recordFailure("fetch", err)
			return snapshot
		}
	}

	for _, id := range ids {
		results, err := bs.recentResults(id, MaxPointsPerProvider)
		if err != nil {
			bs.recordFailure("fetch", err)
			return make(models.HistorySnapshot)
		}
		if len(results) > 0 {
			snapshot[id] = results
		}
	}

	return snapshot
}

// Append durably records each result with the retention TTL, then prunes
func (bs *BadgerStore) Append(ctx context.Context, results []models.CheckResult) {
	if len(results) == 0 {
		return
	}

	ttl := time.Duration(bs.retentionDays) * 24 * time.Hour

	err := bs.db.Update(func(txn *badger.Txn) error {
		for _, result := range results {
			value, err := json.Marshal(result)
			if err != nil {
				return err
			}
			key := resultKey(result.ID, result.CheckedAt.UnixNano())
			if err := txn.SetEntry(badger.NewEntry(key, value).WithTTL(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bs.recordFailure("append", err)
		return
	}

	bs.Prune(ctx, bs.retentionDays)
}

// Prune deletes rows older than the retention cutoff. TTLs cover the
// steady state; this catches rows written under a longer retention.
func (bs *BadgerStore) Prune(ctx context.Context, retentionDays int) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixNano()

	var stale [][]byte
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(resultKeyPrefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, ok := timestampFromKey(key)
			if ok && ts < cutoff {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		bs.recordFailure("prune", err)
		return
	}

	if len(stale) == 0 {
		return
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bs.recordFailure("prune", err)
	}
}

// LoadTrend returns the downsampled per-provider series within the period
func (bs *BadgerStore) LoadTrend(ctx context.Context, period models.Period, allowedIDs []string) models.TrendDataMap {
	trend := make(models.TrendDataMap)
	if emptyRestriction(allowedIDs) {
		return trend
	}

	ids := allowedIDs
	if ids == nil {
		var err error
		ids, err = bs.providerIDs()
		if err != nil {
			bs.recordFailure("trend", err)
			return trend
		}
	}

	cutoff := time.Now().AddDate(0, 0, -period.Days())

	for _, id := range ids {
		results, err := bs.resultsSince(id, cutoff)
		if err != nil {
			bs.recordFailure("trend", err)
			return make(models.TrendDataMap)
		}
		if len(results) == 0 {
			continue
		}

		points := make([]models.TrendDataPoint, 0, len(results))
		for _, r := range results {
			points = append(points, models.TrendDataPoint{
				Timestamp: r.CheckedAt,
				LatencyMs: r.LatencyMs,
				Status:    r.Status,
			})
		}
		trend[id] = Downsample(points, DefaultDownsampleCap)
	}

	return trend
}

// AvailabilityStats computes per-period availability over retained rows
func (bs *BadgerStore) AvailabilityStats(ctx context.Context) (models.AvailabilityStatsMap, error) {
	ids, err := bs.providerIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	periods := []models.Period{models.Period7d, models.Period15d, models.Period30d}
	now := time.Now()
	stats := make(models.AvailabilityStatsMap, len(ids))

	for _, id := range ids {
		results, err := bs.resultsSince(id, now.AddDate(0, 0, -models.Period30d.Days()))
		if err != nil {
			return nil, fmt.Errorf("failed to load rows for %s: %w", id, err)
		}

		providerStats := make([]models.AvailabilityStat, 0, len(periods))
		for _, period := range periods {
			cutoff := now.AddDate(0, 0, -period.Days())

			var total, operational int64
			for _, r := range results {
				if r.CheckedAt.Before(cutoff) {
					continue
				}
				total++
				if r.Status == models.StatusOperational {
					operational++
				}
			}

			stat := models.AvailabilityStat{
				Period:           period,
				TotalChecks:      total,
				OperationalCount: operational,
			}
			if total > 0 {
				pct := float64(operational) / float64(total) * 100
				stat.AvailabilityPct = &pct
			}
			providerStats = append(providerStats, stat)
		}
		stats[id] = providerStats
	}

	return stats, nil
}

// Close stops background GC and closes the database
func (bs *BadgerStore) Close() error {
	close(bs.stopGC)
	bs.logger.Info("Closing BadgerDB snapshot store")
	return bs.db.Close()
}

// recentResults reads up to limit rows for one provider, newest first
func (bs *BadgerStore) recentResults(providerID string, limit int) ([]models.CheckResult, error) {
	prefix := providerPrefix(providerID)
	seekKey := append(append([]byte{}, prefix...), 0xFF)

	var results []models.CheckResult
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(results) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var result models.CheckResult
				if err := json.Unmarshal(val, &result); err != nil {
					return err
				}
				results = append(results, result)
				return nil
			})
			if err != nil {
				bs.logger.WithError(err).Warn("Failed to unmarshal stored result")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// resultsSince reads rows for one provider at or after the cutoff,
// ascending by checked-at.
func (bs *BadgerStore) resultsSince(providerID string, cutoff time.Time) ([]models.CheckResult, error) {
	prefix := providerPrefix(providerID)
	startKey := resultKey(providerID, cutoff.UnixNano())

	var results []models.CheckResult
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(startKey); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var result models.CheckResult
				if err := json.Unmarshal(val, &result); err != nil {
					return err
				}
				results = append(results, result)
				return nil
			})
			if err != nil {
				bs.logger.WithError(err).Warn("Failed to unmarshal stored result")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// providerIDs scans result keys for the distinct provider ids present
func (bs *BadgerStore) providerIDs() ([]string, error) {
	seen := make(map[string]bool)

	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(resultKeyPrefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			colonIdx := bytes.LastIndexByte(rest, ':')
			if colonIdx <= 0 {
				continue
			}
			seen[string(rest[:colonIdx])] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

// timestampFromKey parses the trailing timestamp segment of a result key
func timestampFromKey(key []byte) (int64, bool) {
	colonIdx := bytes.LastIndexByte(key, ':')
	if colonIdx < 0 || colonIdx+1 >= len(key) {
		return 0, false
	}
	ts, err := strconv.ParseInt(string(key[colonIdx+1:]), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func (bs *BadgerStore) recordFailure(operation string, err error) {
	bs.logger.WithError(err).Errorf("Badger %s failed", operation)
	if bs.metrics != nil {
		bs.metrics.RecordStoreFailure(operation)
	}
}

func (bs *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-bs.stopGC:
			return
		case <-ticker.C:
			err := bs.db.RunValueLogGC(0.5)
			if err != nil && err != badger.ErrNoRewrite {
				bs.logger.WithError(err).Debug("Value log GC completed with notice")
			}
		}
	}
}

// badgerLogger adapts our logger to BadgerDB's logger interface
type badgerLogger struct {
	logger *logging.Logger
}

func (bl *badgerLogger) Errorf(format string, args ...interface{}) {
	bl.logger.WithComponent(logging.ComponentStorage).Errorf(format, args...)
}

func (bl *badgerLogger) Warningf(format string, args ...interface{}) {
	bl.logger.WithComponent(logging.ComponentStorage).Warnf(format, args...)
}

func (bl *badgerLogger) Infof(format string, args ...interface{}) {
	bl.logger.WithComponent(logging.ComponentStorage).Infof(format, args...)
}

func (bl *badgerLogger) Debugf(format string, args ...interface{}) {
	bl.logger.WithComponent(logging.ComponentStorage).Debugf(format, args...)
}
