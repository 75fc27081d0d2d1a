// Package http provides the HTTP API for conductd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/orchestrator"
	"github.com/fyrsmithlabs/conductd/internal/policy"
	"github.com/fyrsmithlabs/conductd/internal/safety"
)

// Server provides HTTP endpoints for conductd.
type Server struct {
	echo     *echo.Echo
	policies *policy.Store
	locks    *safety.Interlocks
	orch     *orchestrator.Orchestrator
	logger   *zap.Logger
	config   *Config

	mu       sync.Mutex
	running  map[orchestrator.PhaseID]bool
	outcomes map[orchestrator.PhaseID]*orchestrator.PhaseOutcome
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(policies *policy.Store, locks *safety.Interlocks, orch *orchestrator.Orchestrator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if policies == nil {
		return nil, fmt.Errorf("policy store cannot be nil")
	}
	if locks == nil {
		return nil, fmt.Errorf("safety interlocks cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9190,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:     e,
		policies: policies,
		locks:    locks,
		orch:     orch,
		logger:   logger,
		config:   cfg,
		running:  make(map[orchestrator.PhaseID]bool),
		outcomes: make(map[orchestrator.PhaseID]*orchestrator.PhaseOutcome),
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.GET("/policy", s.handlePolicy)
	v1.PUT("/policy/profile", s.handleSetProfile)
	v1.PUT("/policy/overrides/:key", s.handleSetOverride)
	v1.DELETE("/policy/overrides/:key", s.handleClearOverride)

	v1.POST("/safety/stop", s.handleStop)
	v1.POST("/safety/resume", s.handleResume)
	v1.POST("/safety/safe-mode", s.handleSafeModeOn)
	v1.DELETE("/safety/safe-mode", s.handleSafeModeOff)

	v1.POST("/phases/:id/execute", s.handleExecutePhase)
	v1.GET("/phases/:id/outcome", s.handlePhaseOutcome)
	v1.POST("/checkpoint/resolve", s.handleResolveCheckpoint)
	v1.POST("/halt/clear", s.handleClearHalt)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports the machine state, autonomy profile, and safety
// interlock status in one response.
func (s *Server) handleStatus(c echo.Context) error {
	snap := s.orch.Snapshot()
	return c.JSON(http.StatusOK, StatusResponse{
		Profile:      string(s.policies.Profile()),
		MachineState: snap.MachineState,
		CurrentPhase: snap.CurrentPhase,
		PendingSteps: snap.PendingSteps,
		HaltReason:   s.orch.HaltReason(),
		SafeMode:     s.locks.SafeMode.Status(),
		Stop:         s.locks.Stop.Status(),
		Checkpoint:   s.orch.PendingCheckpoint(),
	})
}

func (s *Server) handlePolicy(c echo.Context) error {
	return c.JSON(http.StatusOK, PolicyResponse{
		Profile:   string(s.policies.Profile()),
		Settings:  s.policies.Settings(),
		Overrides: s.policies.Overrides(),
	})
}

func (s *Server) handleSetProfile(c echo.Context) error {
	var req SetProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.policies.SetProfile(req.Profile); err != nil {
		if errors.Is(err, policy.ErrInvalidProfile) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return s.handlePolicy(c)
}

func (s *Server) handleSetOverride(c echo.Context) error {
	var req SetOverrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	key := c.Param("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "override key is required")
	}
	s.policies.SetOverride(key, req.Value)
	return s.handlePolicy(c)
}

func (s *Server) handleClearOverride(c echo.Context) error {
	key := c.Param("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "override key is required")
	}
	s.policies.ClearOverride(key)
	return s.handlePolicy(c)
}

func (s *Server) handleStop(c echo.Context) error {
	var req StopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason field is required")
	}

	report, err := s.locks.Stop.Execute(c.Request().Context(), req.Reason)
	if err != nil {
		if errors.Is(err, safety.ErrAlreadyStopped) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleResume(c echo.Context) error {
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ApprovedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approved_by field is required")
	}

	if err := s.locks.Stop.Resume(c.Request().Context(), req.ApprovedBy); err != nil {
		if errors.Is(err, safety.ErrNotStopped) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.locks.Stop.Status())
}

func (s *Server) handleSafeModeOn(c echo.Context) error {
	var req SafeModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.locks.SafeMode.Activate(req.Restrictions); err != nil {
		if errors.Is(err, safety.ErrAlreadyActive) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.locks.SafeMode.Status())
}

func (s *Server) handleSafeModeOff(c echo.Context) error {
	if err := s.locks.SafeMode.Deactivate(); err != nil {
		if errors.Is(err, safety.ErrNotActive) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.locks.SafeMode.Status())
}

// handleExecutePhase starts a phase asynchronously. Execution can pause
// on a human checkpoint, so the outcome is retrieved separately once the
// run finishes.
func (s *Server) handleExecutePhase(c echo.Context) error {
	id := orchestrator.PhaseID(c.Param("id"))

	s.mu.Lock()
	if s.running[id] {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("phase %s is already running", id))
	}
	s.running[id] = true
	s.mu.Unlock()

	go func() {
		outcome, err := s.orch.Execute(context.Background(), id)
		if err != nil {
			s.logger.Warn("phase execution failed",
				zap.String("phase", string(id)),
				zap.Error(err))
		}
		s.mu.Lock()
		delete(s.running, id)
		if outcome != nil {
			s.outcomes[id] = outcome
		}
		s.mu.Unlock()
	}()

	return c.JSON(http.StatusAccepted, ExecuteResponse{Phase: string(id), Started: true})
}

// handlePhaseOutcome returns the most recent finished outcome for a phase.
func (s *Server) handlePhaseOutcome(c echo.Context) error {
	id := orchestrator.PhaseID(c.Param("id"))

	s.mu.Lock()
	outcome, ok := s.outcomes[id]
	running := s.running[id]
	s.mu.Unlock()

	if !ok {
		if running {
			return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("phase %s is still running", id))
		}
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no outcome recorded for phase %s", id))
	}
	return c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleResolveCheckpoint(c echo.Context) error {
	var req ResolveCheckpointRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ApprovedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approved_by field is required")
	}

	err := s.orch.ResolveCheckpoint(orchestrator.PhaseID(req.Phase), orchestrator.CheckpointResolution{
		Approved:   req.Approved,
		ApprovedBy: req.ApprovedBy,
		Notes:      req.Notes,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoPendingCheckpoint) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearHalt(c echo.Context) error {
	var req ClearHaltRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ClearedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "cleared_by field is required")
	}

	if err := s.orch.ClearHalt(req.ClearedBy); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
