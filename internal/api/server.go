// Package api serves the dashboard data endpoints and operational
// surfaces (health, Prometheus metrics) over HTTP.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelwatch/modelwatch/internal/config"
	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/internal/storage"
)

// PollStatus is the view of the poller the API needs
type PollStatus interface {
	LastRun() time.Time
	Interval() time.Duration
}

// Server is the HTTP API server
type Server struct {
	app           *fiber.App
	config        *config.Config
	logger        *logging.Logger
	store         storage.Store
	aggregator    *storage.Aggregator
	poller        PollStatus
	prometheusReg prometheus.Registerer
}

// NewServer creates the API server over an already-wired store,
// aggregator, and poller.
func NewServer(cfg *config.Config, store storage.Store, aggregator *storage.Aggregator, poller PollStatus, logger *logging.Logger, prometheusReg prometheus.Registerer) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "modelwatch",
		ServerHeader:          "modelwatch",
		ErrorHandler:          errorHandler(logger),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:           app,
		config:        cfg,
		logger:        logger.WithComponent(logging.ComponentAPI),
		store:         store,
		aggregator:    aggregator,
		poller:        poller,
		prometheusReg: prometheusReg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	corsOrigins := "*"
	if len(s.config.Server.CORSOrigins) > 0 {
		corsOrigins = strings.Join(s.config.Server.CORSOrigins, ",")
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins,
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthHandler)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.app.Get(path, s.metricsHandler)
	}

	api := s.app.Group("/api")
	api.Get("/dashboard", s.dashboardHandler)
	api.Get("/group/:name", s.groupHandler)
	api.Get("/trend", s.trendHandler)
	api.Get("/availability", s.availabilityHandler)
}

// Start listens on the configured address and blocks until shutdown
func (s *Server) Start() error {
	address := s.config.Server.Host + ":" + s.config.Server.Port

	s.logger.WithEvent(logging.EventServerStart).WithFields(map[string]interface{}{
		"address": address,
	}).Info("Starting HTTP server")

	return s.app.Listen(address)
}

// Stop gracefully shuts the server down
func (s *Server) Stop() error {
	s.logger.WithEvent(logging.EventServerStop).Info("Stopping HTTP server")
	return s.app.Shutdown()
}

// App exposes the fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.WithComponent(logging.ComponentAPI).
			WithFields(map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
				"status": code,
			}).
			WithError(err).
			Error("HTTP request error")

		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
}
