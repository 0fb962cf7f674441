package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelwatch/modelwatch/internal/config"
	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/internal/metrics"
	"github.com/modelwatch/modelwatch/internal/storage"
	"github.com/modelwatch/modelwatch/pkg/models"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.InitLogger(logging.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}
	return logger
}

// fakeStore serves canned data and records the restrictions it was given
type fakeStore struct {
	snapshot models.HistorySnapshot
	trend    models.TrendDataMap
	stats    models.AvailabilityStatsMap

	fetchIDs    []string
	trendPeriod models.Period
}

func (f *fakeStore) Fetch(ctx context.Context, allowedIDs []string) models.HistorySnapshot {
	f.fetchIDs = allowedIDs
	return f.snapshot
}

func (f *fakeStore) Append(ctx context.Context, results []models.CheckResult) {}
func (f *fakeStore) Prune(ctx context.Context, retentionDays int)            {}

func (f *fakeStore) LoadTrend(ctx context.Context, period models.Period, allowedIDs []string) models.TrendDataMap {
	f.trendPeriod = period
	return f.trend
}

func (f *fakeStore) AvailabilityStats(ctx context.Context) (models.AvailabilityStatsMap, error) {
	return f.stats, nil
}

func (f *fakeStore) Close() error { return nil }

type fakePoller struct {
	lastRun  time.Time
	interval time.Duration
}

func (f *fakePoller) LastRun() time.Time      { return f.lastRun }
func (f *fakePoller) Interval() time.Duration { return f.interval }

func ms(v int64) *int64 { return &v }

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: "8787"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Polling: config.PollingConfig{Interval: time.Minute},
		Providers: []models.ProviderConfig{
			{ID: "claude", Name: "Claude", Type: models.ProtocolAnthropic, Model: "m", APIKey: "k", GroupName: "anthropic"},
			{ID: "gemini", Name: "Gemini", Type: models.ProtocolOpenAI, Model: "m", APIKey: "k", GroupName: "google"},
			{ID: "fresh", Name: "Fresh", Type: models.ProtocolOpenAI, Model: "m", APIKey: "k"},
		},
	}
}

func testSnapshot() models.HistorySnapshot {
	now := time.Now().UTC()
	return models.HistorySnapshot{
		"claude": {
			{ID: "claude", Name: "Claude", Type: models.ProtocolAnthropic, Status: models.StatusOperational, LatencyMs: ms(800), CheckedAt: now},
			{ID: "claude", Name: "Claude", Type: models.ProtocolAnthropic, Status: models.StatusDegraded, LatencyMs: ms(7000), CheckedAt: now.Add(-time.Minute)},
		},
		"gemini": {
			{ID: "gemini", Name: "Gemini", Type: models.ProtocolOpenAI, Status: models.StatusOperational, LatencyMs: ms(300), CheckedAt: now},
		},
	}
}

func newTestServer(t *testing.T, store *fakeStore) *Server {
	t.Helper()
	cfg := testConfig()
	logger := testLogger(t)
	registry := prometheus.NewRegistry()
	metrics.NewMetrics(registry)
	aggregator := storage.NewAggregator(store, cfg.Polling.Interval, logger)
	poller := &fakePoller{lastRun: time.Now(), interval: time.Minute}
	return NewServer(cfg, store, aggregator, poller, logger, registry)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeStore{})

	resp, err := server.App().Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["service"] != "modelwatch" {
		t.Errorf("unexpected service name %q", body["service"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeStore{})

	resp, err := server.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "modelwatch_providers_configured") {
		t.Error("expected registered metrics in exposition output")
	}
}

func TestDashboardEndpoint(t *testing.T) {
	store := &fakeStore{
		snapshot: testSnapshot(),
		trend:    models.TrendDataMap{"claude": {}},
		stats:    models.AvailabilityStatsMap{"claude": {{Period: models.Period7d, TotalChecks: 10, OperationalCount: 9}}},
	}
	server := newTestServer(t, store)

	resp, err := server.App().Test(httptest.NewRequest("GET", "/api/dashboard", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload DashboardPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if len(payload.Timelines) != 3 {
		t.Fatalf("expected 3 timelines in config order, got %d", len(payload.Timelines))
	}
	if payload.Timelines[0].ID != "claude" || payload.Timelines[1].ID != "gemini" || payload.Timelines[2].ID != "fresh" {
		t.Errorf("timelines out of config order: %v", payload.Timelines)
	}

	claude := payload.Timelines[0]
	if claude.Latest == nil || claude.Latest.Status != models.StatusOperational {
		t.Errorf("latest should be the newest result, got %+v", claude.Latest)
	}
	if len(claude.Items) != 2 {
		t.Errorf("expected full claude history, got %d items", len(claude.Items))
	}

	fresh := payload.Timelines[2]
	if fresh.Latest != nil || fresh.Items == nil || len(fresh.Items) != 0 {
		t.Errorf("provider without history should have empty items and nil latest, got %+v", fresh)
	}

	if len(payload.Groups["anthropic"]) != 1 || len(payload.Groups["google"]) != 1 {
		t.Errorf("grouped timelines wrong: %v", payload.Groups)
	}
	if payload.PollIntervalSeconds != 60 {
		t.Errorf("expected 60s poll interval, got %d", payload.PollIntervalSeconds)
	}
	if payload.LastUpdated == nil {
		t.Error("expected last_updated to be set")
	}
	if store.fetchIDs != nil {
		t.Error("dashboard fetch must be unrestricted")
	}
	if store.trendPeriod != models.Period7d {
		t.Errorf("expected default 7d period, got %s", store.trendPeriod)
	}
}

func TestDashboardPeriodQuery(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store)

	resp, err := server.App().Test(httptest.NewRequest("GET", "/api/dashboard?period=30d", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if store.trendPeriod != models.Period30d {
		t.Errorf("expected 30d period, got %s", store.trendPeriod)
	}
}

func TestGroupEndpoint(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot()}
	server := newTestServer(t, store)

	resp, err := server.App().Test(httptest.NewRequest("GET", "/api/group/anthropic", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload DashboardPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if len(payload.Timelines) != 1 || payload.Timelines[0].ID != "claude" {
		t.Errorf("expected only the group member, got %v", payload.Timelines)
	}
	if len(store.fetchIDs) != 1 || store.fetchIDs[0] != "claude" {
		t.Errorf("group fetch must restrict to member ids, got %v", store.fetchIDs)
	}
}

func TestGroupEndpointUnknownGroup(t *testing.T) {
	server := newTestServer(t, &fakeStore{})

	resp, err := server.App().Test(httptest.NewRequest("GET", "/api/group/nonexistent", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for unknown group, got %d", resp.StatusCode)
	}
}

func TestTrendEndpoint(t *testing.T) {
	store := &fakeStore{trend: models.TrendDataMap{"claude": {}}}
	server := newTestServer(t, store)

	resp, err := server.App().Test(httptest.NewRequest("GET", "/api/trend?period=15d", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if store.trendPeriod != models.Period15d {
		t.Errorf("expected 15d period, got %s", store.trendPeriod)
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	pct := 99.0
	store := &fakeStore{stats: models.AvailabilityStatsMap{
		"claude": {{Period: models.Period7d, TotalChecks: 100, OperationalCount: 99, AvailabilityPct: &pct}},
	}}
	server := newTestServer(t, store)

	resp, err := server.App().Test(httptest.NewRequest("GET", "/api/availability", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var stats models.AvailabilityStatsMap
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if len(stats["claude"]) != 1 || stats["claude"][0].TotalChecks != 100 {
		t.Errorf("unexpected stats payload: %v", stats)
	}
}
