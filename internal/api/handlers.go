package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelwatch/modelwatch/pkg/models"
)

// ProviderTimeline is one provider's recent history plus its latest state
type ProviderTimeline struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Type      models.ProtocolType  `json:"type"`
	GroupName string               `json:"group_name,omitempty"`
	Latest    *models.CheckResult  `json:"latest"`
	Items     []models.CheckResult `json:"items"`
}

// DashboardPayload is the full data set the dashboard renders from
type DashboardPayload struct {
	Timelines           []ProviderTimeline            `json:"timelines"`
	Groups              map[string][]ProviderTimeline `json:"groups"`
	Availability        models.AvailabilityStatsMap   `json:"availability"`
	Trend               models.TrendDataMap           `json:"trend"`
	LastUpdated         *time.Time                    `json:"last_updated"`
	PollIntervalSeconds int                           `json:"poll_interval_seconds"`
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "modelwatch",
	})
}

// metricsHandler serves the Prometheus registry through fiber
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	gatherer, ok := s.prometheusReg.(prometheus.Gatherer)
	if !ok {
		return fiber.NewError(fiber.StatusInternalServerError, "metrics registry is not a gatherer")
	}

	c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var buf bytes.Buffer
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	rw := &responseWriter{Buffer: &buf, header: make(http.Header)}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(rw, req)

	return c.SendString(buf.String())
}

// responseWriter captures promhttp output into a buffer
type responseWriter struct {
	*bytes.Buffer
	header http.Header
}

func (rw *responseWriter) Header() http.Header       { return rw.header }
func (rw *responseWriter) WriteHeader(statusCode int) {}

// dashboardHandler assembles the complete dashboard payload
func (s *Server) dashboardHandler(c *fiber.Ctx) error {
	ctx := c.UserContext()
	period := periodFromQuery(c)

	snapshot := s.store.Fetch(ctx, nil)
	timelines := s.buildTimelines(snapshot, s.config.Providers)

	groups := make(map[string][]ProviderTimeline)
	for _, tl := range timelines {
		if tl.GroupName != "" {
			groups[tl.GroupName] = append(groups[tl.GroupName], tl)
		}
	}

	payload := DashboardPayload{
		Timelines:           timelines,
		Groups:              groups,
		Availability:        s.aggregator.GetStats(ctx, nil),
		Trend:               s.store.LoadTrend(ctx, period, nil),
		PollIntervalSeconds: int(s.poller.Interval().Seconds()),
	}
	if last := s.poller.LastRun(); !last.IsZero() {
		payload.LastUpdated = &last
	}

	return c.JSON(payload)
}

// groupHandler serves the dashboard payload restricted to one group
func (s *Server) groupHandler(c *fiber.Ctx) error {
	ctx := c.UserContext()
	name := c.Params("name")
	period := periodFromQuery(c)

	var members []models.ProviderConfig
	ids := []string{}
	for _, p := range s.config.Providers {
		if p.GroupName == name {
			members = append(members, p)
			ids = append(ids, p.ID)
		}
	}
	if len(members) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "group not found")
	}

	snapshot := s.store.Fetch(ctx, ids)
	timelines := s.buildTimelines(snapshot, members)

	payload := DashboardPayload{
		Timelines:           timelines,
		Groups:              map[string][]ProviderTimeline{name: timelines},
		Availability:        s.aggregator.GetStats(ctx, ids),
		Trend:               s.store.LoadTrend(ctx, period, ids),
		PollIntervalSeconds: int(s.poller.Interval().Seconds()),
	}
	if last := s.poller.LastRun(); !last.IsZero() {
		payload.LastUpdated = &last
	}

	return c.JSON(payload)
}

// trendHandler serves the downsampled trend series on its own
func (s *Server) trendHandler(c *fiber.Ctx) error {
	return c.JSON(s.store.LoadTrend(c.UserContext(), periodFromQuery(c), nil))
}

// availabilityHandler serves the cached availability statistics
func (s *Server) availabilityHandler(c *fiber.Ctx) error {
	return c.JSON(s.aggregator.GetStats(c.UserContext(), nil))
}

// buildTimelines orders timelines by the configured provider order.
// Providers with no stored history still appear, with empty items, so
// the dashboard can render them as pending.
func (s *Server) buildTimelines(snapshot models.HistorySnapshot, providers []models.ProviderConfig) []ProviderTimeline {
	timelines := make([]ProviderTimeline, 0, len(providers))
	for _, p := range providers {
		if !p.IsEnabled() {
			continue
		}

		items := snapshot[p.ID]
		if items == nil {
			items = []models.CheckResult{}
		}

		tl := ProviderTimeline{
			ID:        p.ID,
			Name:      p.Name,
			Type:      p.Type,
			GroupName: p.GroupName,
			Items:     items,
		}
		if len(items) > 0 {
			tl.Latest = &items[0]
		}
		timelines = append(timelines, tl)
	}
	return timelines
}

func periodFromQuery(c *fiber.Ctx) models.Period {
	switch c.Query("period") {
	case "15d":
		return models.Period15d
	case "30d":
		return models.Period30d
	default:
		return models.Period7d
	}
}
