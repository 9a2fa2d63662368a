// Package server exposes the engine over HTTP: session lifecycle
// endpoints under /api/v1, plus health and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/coordinator"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

// Server hosts the HTTP API.
type Server struct {
	echo    *echo.Echo
	cfg     config.ServerConfig
	coord   *coordinator.Coordinator
	store   *session.Store
	metrics *metrics
	logger  *zap.Logger
}

// New creates the server and registers routes and middleware.
func New(cfg config.ServerConfig, coord *coordinator.Coordinator, store *session.Store, logger *zap.Logger) (*Server, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	s := &Server{
		echo:    echo.New(),
		cfg:     cfg,
		coord:   coord,
		store:   store,
		metrics: newMetrics(registry),
		logger:  logger,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(s.requestLogger())

	s.registerRoutes(registry)
	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	})
}

func (s *Server) registerRoutes(registry *prometheus.Registry) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api/v1")
	api.POST("/analyses", s.handleCreate)
	api.GET("/analyses", s.handleList)
	api.GET("/analyses/:id", s.handleGet)
	api.POST("/analyses/:id/pause", s.handlePause)
	api.POST("/analyses/:id/resume", s.handleResume)
	api.POST("/analyses/:id/cancel", s.handleCancel)
	api.GET("/analyses/:id/report", s.handleReport)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
