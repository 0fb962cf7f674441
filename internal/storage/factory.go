package storage

import (
	"context"
	"fmt"

	"github.com/modelwatch/modelwatch/internal/config"
	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/internal/metrics"
)

// BackendType identifies a snapshot-store backend
type BackendType string

const (
	// BackendNone keeps no history, metrics only via Prometheus
	BackendNone BackendType = "none"
	// BackendBadger uses embedded BadgerDB storage
	BackendBadger BackendType = "badger"
	// BackendPostgres uses a remote PostgreSQL telemetry store
	BackendPostgres BackendType = "postgres"
)

// NewStore creates the snapshot-store backend named by configuration
func NewStore(ctx context.Context, cfg *config.StorageConfig, logger *logging.Logger, m *metrics.Metrics) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	retentionDays := config.ClampRetentionDays(cfg.RetentionDays)

	switch BackendType(cfg.Backend) {
	case BackendNone:
		logger.Info("Using no-op snapshot store, metrics only")
		return NewNoopStore(), nil

	case BackendBadger, "":
		logger.Info("Using BadgerDB snapshot store")
		return NewBadgerStore(cfg.Badger.Path, retentionDays, logger, m)

	case BackendPostgres:
		logger.Info("Using PostgreSQL snapshot store")
		return NewPostgresStore(ctx, cfg.Postgres.DSN, retentionDays, logger, m)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (valid options: none, badger, postgres)", cfg.Backend)
	}
}
