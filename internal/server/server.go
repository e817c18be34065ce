// Package server provides the status HTTP server for vr-obs-switcher
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/vr-obs-switcher/internal/config"
	"github.com/teslashibe/vr-obs-switcher/internal/health"
	"github.com/teslashibe/vr-obs-switcher/internal/switcher"
)

// Server is the status server for the switcher
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	switcher  *switcher.Switcher
	checker   *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new status server
func New(cfg *config.Config, sw *switcher.Switcher, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(version)
	}

	app := fiber.New(fiber.Config{
		AppName:               "vr-obs-switcher",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		switcher:  sw,
		checker:   checker,
		logger:    logger,
		wsHub:     NewWSHub(sw, cfg.Server.BroadcastHz, logger),
		startTime: time.Now(),
		version:   version,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")
	api.Get("/status", s.statusHandler)
	api.Get("/heading/stream", s.wsHub.UpgradeHandler())

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	status := s.checker.GetStatus()

	code := fiber.StatusOK
	if status.Status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// statusHandler returns the latest heading and the visible source
func (s *Server) statusHandler(c *fiber.Ctx) error {
	if s.switcher == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "switcher not available",
		})
	}

	stats := s.switcher.Stats()

	return c.JSON(fiber.Map{
		"state":   stats.State,
		"scene":   stats.Scene,
		"visible": stats.Visible,
		"latest":  s.switcher.GetLatest(),
	})
}

// configHandler returns current configuration, without secrets
func (s *Server) configHandler(c *fiber.Ctx) error {
	sw := s.cfg.Switcher

	return c.JSON(fiber.Map{
		"switcher": fiber.Map{
			"front_source":       sw.FrontSource,
			"back_source":        sw.BackSource,
			"threshold":          sw.Threshold,
			"interval_ms":        sw.PollInterval().Milliseconds(),
			"required_processes": sw.RequiredProcesses,
			"follow_scene":       sw.FollowScene,
			"auto_calibrate":     sw.AutoCalibrate,
			"dry_run":            sw.DryRun,
		},
		"obs": fiber.Map{
			"host":         s.cfg.OBS.Host,
			"port":         s.cfg.OBS.Port,
			"password_set": s.cfg.OBS.Password != "",
		},
		"tracking": fiber.Map{
			"provider": s.cfg.Tracking.Provider,
			"origin":   s.cfg.Tracking.Origin,
		},
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"broadcast_hz":     s.cfg.Server.BroadcastHz,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
		},
	})
}

// statsHandler returns switcher statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.switcher == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "switcher not available",
		})
	}

	return c.JSON(s.switcher.Stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.switcher == nil {
		return c.Status(503).SendString("# no switcher available\n")
	}

	stats := s.switcher.Stats()

	metrics := fmt.Sprintf(`# HELP vr_obs_switcher_heading_degrees Last HMD heading relative to the calibrated zero
# TYPE vr_obs_switcher_heading_degrees gauge
vr_obs_switcher_heading_degrees %f

# HELP vr_obs_switcher_facing_front Facing state (1=front, 0=back)
# TYPE vr_obs_switcher_facing_front gauge
vr_obs_switcher_facing_front %d

# HELP vr_obs_switcher_running Loop state (1=running, 0=otherwise)
# TYPE vr_obs_switcher_running gauge
vr_obs_switcher_running %d

# HELP vr_obs_switcher_poll_count Total heading polls
# TYPE vr_obs_switcher_poll_count counter
vr_obs_switcher_poll_count %d

# HELP vr_obs_switcher_invalid_poses Total polls skipped for an invalid pose
# TYPE vr_obs_switcher_invalid_poses counter
vr_obs_switcher_invalid_poses %d

# HELP vr_obs_switcher_tracking_errors Total failed pose queries
# TYPE vr_obs_switcher_tracking_errors counter
vr_obs_switcher_tracking_errors %d

# HELP vr_obs_switcher_toggles Total source switches
# TYPE vr_obs_switcher_toggles counter
vr_obs_switcher_toggles %d

# HELP vr_obs_switcher_toggle_failures Total source switches with a failed remote call
# TYPE vr_obs_switcher_toggle_failures counter
vr_obs_switcher_toggle_failures %d

# HELP vr_obs_switcher_uptime_seconds Server uptime in seconds
# TYPE vr_obs_switcher_uptime_seconds gauge
vr_obs_switcher_uptime_seconds %d

# HELP vr_obs_switcher_websocket_clients Current WebSocket client count
# TYPE vr_obs_switcher_websocket_clients gauge
vr_obs_switcher_websocket_clients %d
`,
		stats.Relative,
		boolToInt(stats.Front),
		boolToInt(stats.State == switcher.StateRunning.String()),
		stats.PollCount,
		stats.InvalidPoses,
		stats.TrackingErrors,
		stats.Toggles,
		stats.ToggleFailures,
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting status server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
