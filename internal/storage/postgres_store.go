package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/internal/metrics"
	"github.com/modelwatch/modelwatch/pkg/models"
)

// PostgresStore is the remote snapshot-store backend. It prefers
// server-side functions that pre-limit and pre-filter rows, and falls
// back to raw queries when a function is absent from the database.
type PostgresStore struct {
	pool          *pgxpool.Pool
	logger        *logging.Logger
	metrics       *metrics.Metrics
	retentionDays int
}

const (
	fnRecentHistory  = "get_recent_check_history"
	fnPruneHistory   = "prune_check_history"
	fnHistoryByTime  = "get_check_history_by_time"
	undefinedFnCode  = "42883"
	postgresPingWait = 5 * time.Second
)

// NewPostgresStore connects to and pings the database
func NewPostgresStore(ctx context.Context, dsn string, retentionDays int, logger *logging.Logger, m *metrics.Metrics) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, postgresPingWait)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{
		pool:          pool,
		logger:        logger.WithComponent(logging.ComponentStorage),
		metrics:       m,
		retentionDays: retentionDays,
	}

	store.logger.Info("PostgreSQL snapshot store initialized")
	return store, nil
}

// Fetch returns the newest results per provider via the server-side
// function, falling back to a raw join when the function is missing.
func (ps *PostgresStore) Fetch(ctx context.Context, allowedIDs []string) models.HistorySnapshot {
	if emptyRestriction(allowedIDs) {
		return make(models.HistorySnapshot)
	}

	query := fmt.Sprintf(`
		SELECT config_id, name, type, endpoint, model, status,
		       latency_ms, ping_latency_ms, checked_at, message, group_name
		FROM %s($1, $2)
	`, fnRecentHistory)

	rows, err := ps.pool.Query(ctx, query, MaxPointsPerProvider, allowedIDs)
	if err != nil {
		if !ps.isMissingFunction(err, fnRecentHistory) {
			ps.recordFailure("fetch", err)
			return make(models.HistorySnapshot)
		}
		return ps.fetchFallback(ctx, allowedIDs)
	}

	snapshot, err := ps.scanSnapshot(rows)
	if err != nil {
		ps.recordFailure("fetch", err)
		return make(models.HistorySnapshot)
	}
	return snapshot
}

// fetchFallback runs the unbounded join and truncates client-side
func (ps *PostgresStore) fetchFallback(ctx context.Context, allowedIDs []string) models.HistorySnapshot {
	ps.logFallback(fnRecentHistory)

	query := `
		SELECT h.config_id, c.name, c.type, c.endpoint, c.model, h.status,
		       h.latency_ms, h.ping_latency_ms, h.checked_at, h.message, c.group_name
		FROM check_history h
		LEFT JOIN check_configs c ON c.id = h.config_id
	`
	args := []interface{}{}
	if allowedIDs != nil {
		query += " WHERE h.config_id = ANY($1)"
		args = append(args, allowedIDs)
	}
	query += " ORDER BY h.checked_at DESC"

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		ps.recordFailure("fetch", err)
		return make(models.HistorySnapshot)
	}

	snapshot, err := ps.scanSnapshot(rows)
	if err != nil {
		ps.recordFailure("fetch", err)
		return make(models.HistorySnapshot)
	}
	return snapshot
}

// Append inserts all results in one batch, then prunes
func (ps *PostgresStore) Append(ctx context.Context, results []models.CheckResult) {
	if len(results) == 0 {
		return
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO check_history
				(config_id, status, latency_ms, ping_latency_ms, checked_at, message, group_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.ID, string(r.Status), r.LatencyMs, r.PingLatencyMs, r.CheckedAt, r.Message, r.GroupName)
	}

	br := ps.pool.SendBatch(ctx, batch)
	err := br.Close()
	if err != nil {
		ps.recordFailure("append", err)
		return
	}

	ps.Prune(ctx, ps.retentionDays)
}

// Prune deletes rows older than the retention cutoff
func (ps *PostgresStore) Prune(ctx context.Context, retentionDays int) {
	_, err := ps.pool.Exec(ctx, fmt.Sprintf("SELECT %s($1)", fnPruneHistory), retentionDays)
	if err == nil {
		return
	}
	if !ps.isMissingFunction(err, fnPruneHistory) {
		ps.recordFailure("prune", err)
		return
	}

	ps.logFallback(fnPruneHistory)
	_, err = ps.pool.Exec(ctx,
		"DELETE FROM check_history WHERE checked_at < NOW() - make_interval(days => $1)",
		retentionDays)
	if err != nil {
		ps.recordFailure("prune", err)
	}
}

// LoadTrend returns downsampled per-provider series within the period
func (ps *PostgresStore) LoadTrend(ctx context.Context, period models.Period, allowedIDs []string) models.TrendDataMap {
	if emptyRestriction(allowedIDs) {
		return make(models.TrendDataMap)
	}

	query := fmt.Sprintf(`
		SELECT config_id, status, latency_ms, checked_at
		FROM %s($1, $2)
		ORDER BY checked_at ASC
	`, fnHistoryByTime)

	rows, err := ps.pool.Query(ctx, query, period.Interval(), allowedIDs)
	if err != nil {
		if !ps.isMissingFunction(err, fnHistoryByTime) {
			ps.recordFailure("trend", err)
			return make(models.TrendDataMap)
		}
		return ps.trendFallback(ctx, period, allowedIDs)
	}

	trend, err := ps.scanTrend(rows)
	if err != nil {
		ps.recordFailure("trend", err)
		return make(models.TrendDataMap)
	}
	return trend
}

// trendFallback computes the period cutoff client-side
func (ps *PostgresStore) trendFallback(ctx context.Context, period models.Period, allowedIDs []string) models.TrendDataMap {
	ps.logFallback(fnHistoryByTime)

	cutoff := time.Now().AddDate(0, 0, -period.Days())
	query := `
		SELECT config_id, status, latency_ms, checked_at
		FROM check_history
		WHERE checked_at >= $1
	`
	args := []interface{}{cutoff}
	if allowedIDs != nil {
		query += " AND config_id = ANY($2)"
		args = append(args, allowedIDs)
	}
	query += " ORDER BY checked_at ASC"

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		ps.recordFailure("trend", err)
		return make(models.TrendDataMap)
	}

	trend, err := ps.scanTrend(rows)
	if err != nil {
		ps.recordFailure("trend", err)
		return make(models.TrendDataMap)
	}
	return trend
}

// AvailabilityStats reads the pre-aggregated availability view
func (ps *PostgresStore) AvailabilityStats(ctx context.Context) (models.AvailabilityStatsMap, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT config_id, period, total_checks, operational_count, availability_pct
		FROM availability_stats
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability stats: %w", err)
	}
	defer rows.Close()

	stats := make(models.AvailabilityStatsMap)
	for rows.Next() {
		var configID string
		var stat models.AvailabilityStat
		if err := rows.Scan(&configID, &stat.Period, &stat.TotalChecks,
			&stat.OperationalCount, &stat.AvailabilityPct); err != nil {
			return nil, fmt.Errorf("failed to scan availability row: %w", err)
		}
		stats[configID] = append(stats[configID], stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read availability rows: %w", err)
	}

	return stats, nil
}

// Close releases the connection pool
func (ps *PostgresStore) Close() error {
	ps.logger.Info("Closing PostgreSQL snapshot store")
	ps.pool.Close()
	return nil
}

// scanSnapshot groups rows by provider, newest first, truncated per
// provider. Input rows must already be sorted descending by checked-at.
func (ps *PostgresStore) scanSnapshot(rows pgx.Rows) (models.HistorySnapshot, error) {
	defer rows.Close()

	snapshot := make(models.HistorySnapshot)
	for rows.Next() {
		var r models.CheckResult
		var name, endpoint, model, message, groupName *string
		var protocol *string

		err := rows.Scan(&r.ID, &name, &protocol, &endpoint, &model, &r.Status,
			&r.LatencyMs, &r.PingLatencyMs, &r.CheckedAt, &message, &groupName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		r.Name = deref(name)
		r.Type = models.ProtocolType(deref(protocol))
		r.Endpoint = deref(endpoint)
		r.Model = deref(model)
		r.Message = deref(message)
		r.GroupName = deref(groupName)

		if len(snapshot[r.ID]) < MaxPointsPerProvider {
			snapshot[r.ID] = append(snapshot[r.ID], r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}

	return snapshot, nil
}

// scanTrend groups ascending rows into downsampled per-provider series
func (ps *PostgresStore) scanTrend(rows pgx.Rows) (models.TrendDataMap, error) {
	defer rows.Close()

	raw := make(map[string][]models.TrendDataPoint)
	for rows.Next() {
		var configID string
		var point models.TrendDataPoint
		if err := rows.Scan(&configID, &point.Status, &point.LatencyMs, &point.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		raw[configID] = append(raw[configID], point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trend rows: %w", err)
	}

	trend := make(models.TrendDataMap, len(raw))
	for id, points := range raw {
		sort.Slice(points, func(i, j int) bool {
			return points[i].Timestamp.Before(points[j].Timestamp)
		})
		trend[id] = Downsample(points, DefaultDownsampleCap)
	}
	return trend, nil
}

// isMissingFunction reports whether err means the named server-side
// function does not exist in the database.
func (ps *PostgresStore) isMissingFunction(err error, fnName string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == undefinedFnCode && strings.Contains(pgErr.Message, fnName)
	}
	return strings.Contains(err.Error(), fnName) &&
		strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func (ps *PostgresStore) logFallback(fnName string) {
	ps.logger.WithEvent(logging.EventStoreFallback).
		Warnf("Server-side function %s missing, using raw query fallback", fnName)
}

func (ps *PostgresStore) recordFailure(operation string, err error) {
	ps.logger.WithError(err).Errorf("PostgreSQL %s failed", operation)
	if ps.metrics != nil {
		ps.metrics.RecordStoreFailure(operation)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
