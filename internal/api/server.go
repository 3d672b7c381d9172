package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apimiddleware "github.com/spotguard/spotguard/internal/api/middleware"
	"github.com/spotguard/spotguard/internal/auth"
	"github.com/spotguard/spotguard/internal/consolidator"
	"github.com/spotguard/spotguard/internal/ingest"
	"github.com/spotguard/spotguard/internal/orchestrator"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
)

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	JWTSecret       string
	TokenTTL        time.Duration
	MaxBodySize     string
	PollLimit       int
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
		JWTSecret:       "change-me-in-production-min-32-chars",
		TokenTTL:        time.Hour,
		MaxBodySize:     "1M",
		PollLimit:       10,
	}
}

// Server represents the HTTP API server
type Server struct {
	echo      *echo.Echo
	config    *ServerConfig
	store     *store.Store
	registry  *pool.Registry
	validator *ingest.Validator
	orch      *orchestrator.Orchestrator
	runner    *consolidator.Runner
	auth      *auth.Auth
}

// NewServer creates a new API server
func NewServer(
	config *ServerConfig,
	st *store.Store,
	registry *pool.Registry,
	validator *ingest.Validator,
	orch *orchestrator.Orchestrator,
	runner *consolidator.Runner,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Disable Echo's default logger, we'll use our own
	e.Logger.SetOutput(io.Discard)

	e.Validator = NewValidator()

	s := &Server{
		echo:      e,
		config:    config,
		store:     st,
		registry:  registry,
		validator: validator,
		orch:      orch,
		runner:    runner,
		auth:      auth.NewAuth(config.JWTSecret, config.TokenTTL),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware stack
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimiddleware.Logger())
	s.echo.Use(middleware.BodyLimit(s.config.MaxBodySize))
	s.echo.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: 30 * time.Second,
	}))
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check (no auth required)
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ready", s.readyCheck)

	v1 := s.echo.Group("/api/v1")
	requireAgent := auth.RequireAgent(s.auth)

	// Agent registration and token exchange (public)
	agentHandler := NewAgentHandler(s.store, s.auth, s.registry)
	v1.POST("/agents", agentHandler.Register)
	v1.POST("/agents/:id/token", agentHandler.Token)

	// Agent self-service (authenticated)
	v1.PATCH("/agents/:id/mode", agentHandler.Mode, requireAgent)
	v1.GET("/agents/:id", agentHandler.Get, requireAgent)

	// Telemetry and notices
	reportHandler := NewReportHandler(s.store, s.validator, s.orch)
	reports := v1.Group("/reports", requireAgent)
	reports.POST("/pricing", reportHandler.Pricing)
	reports.POST("/heartbeat", reportHandler.Heartbeat)
	reports.POST("/rebalance", reportHandler.Rebalance)
	reports.POST("/termination", reportHandler.Termination)
	reports.POST("/execution", reportHandler.Execution)

	// Command queue
	commandHandler := NewCommandHandler(s.store, s.config.PollLimit)
	v1.GET("/agents/:id/commands", commandHandler.Poll, requireAgent)
	v1.GET("/agents/:id/commands/history", commandHandler.History, requireAgent)

	// Operator visibility
	instanceHandler := NewInstanceHandler(s.store)
	v1.GET("/instances", instanceHandler.List)
	v1.GET("/instances/:id", instanceHandler.Get)

	priceHandler := NewPriceHandler(s.store, s.registry)
	v1.GET("/pools", priceHandler.Pools)
	v1.GET("/pools/:id/prices", priceHandler.Series)
	v1.GET("/pools/:id/prices/latest", priceHandler.Latest)

	consolidationHandler := NewConsolidationHandler(s.store, s.runner)
	v1.GET("/consolidation/jobs", consolidationHandler.Jobs)
	v1.GET("/consolidation/jobs/:id", consolidationHandler.Job)
	v1.POST("/consolidation/catchup", consolidationHandler.Catchup)
}

// healthCheck returns basic health status
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// readyCheck checks if server is ready to handle requests
func (s *Server) readyCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "database unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for testing
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
