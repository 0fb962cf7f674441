// modelwatch continuously health-checks AI-model API endpoints with
// challenge-verified probes and serves the aggregated telemetry to a
// status dashboard.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelwatch/modelwatch/internal/api"
	"github.com/modelwatch/modelwatch/internal/config"
	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/internal/metrics"
	"github.com/modelwatch/modelwatch/internal/probes"
	"github.com/modelwatch/modelwatch/internal/scheduler"
	"github.com/modelwatch/modelwatch/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.InitLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	registry := prometheus.NewRegistry()
	metricsInstance := metrics.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, &cfg.Storage, logger, metricsInstance)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize snapshot store")
	}

	clientCache := probes.NewClientCache()
	pinger := probes.NewPingProber(logger)
	probeRegistry := probes.NewRegistry(clientCache, pinger, logger)

	poller := scheduler.NewPoller(cfg.Providers, cfg.Polling.Interval, probeRegistry, store, logger, metricsInstance)
	aggregator := storage.NewAggregator(store, cfg.Polling.Interval, logger)
	server := api.NewServer(cfg, store, aggregator, poller, logger, registry)

	poller.Start(ctx)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	logger.Info("modelwatch started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down modelwatch...")

	poller.Stop()
	cancel()

	if err := server.Stop(); err != nil {
		logger.WithError(err).Error("Failed to shut down server gracefully")
	}
	if err := store.Close(); err != nil {
		logger.WithError(err).Error("Failed to close snapshot store")
	}

	logger.Info("modelwatch stopped")
}
