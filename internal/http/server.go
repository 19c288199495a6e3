// Package http serves the operational endpoints of patternd: /health and
// the Prometheus /metrics registry.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HealthFunc reports the current process health.
type HealthFunc func(ctx context.Context) HealthResponse

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit caps requests per second per client IP. Zero disables it.
	RateLimit float64
}

// Server provides the operational HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	health   HealthFunc
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	config   *Config
}

// Option configures NewServer.
type Option func(*Server)

// WithGatherer serves gatherer on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithMetrics records OTel request metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.echo.Use(m.Middleware())
		}
	}
}

// NewServer creates the server. health must not be nil.
func NewServer(health HealthFunc, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if health == nil {
		return nil, fmt.Errorf("health func cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9464}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request.id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		health:   health,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	return s, nil
}

// handleHealth returns 200 when healthy and 503 when degraded.
func (s *Server) handleHealth(c echo.Context) error {
	resp := s.health(c.Request().Context())
	if resp.Status == "" {
		resp.Status = StatusOK
	}
	code := http.StatusOK
	if resp.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
