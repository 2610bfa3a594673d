// Package httpapi exposes the sync engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the routes. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", h.Health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	router.POST("/webhooks/accounting", h.Webhook)

	v1 := router.Group("/v1/tenants/:tenant")
	{
		v1.POST("/sync", h.Sync)
		v1.POST("/entities/:entity/sync", h.SyncEntity)
		v1.POST("/jobs", h.EnqueueJob)
		v1.GET("/jobs", h.ListJobs)
		v1.GET("/history", h.ListHistory)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/rate-limit", h.RateLimitStats)
		v1.DELETE("/rate-limit", h.ResetRateLimit)
	}

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

type Server struct {
	server *http.Server
	logger *slog.Logger
}

func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		logger: logger.With("component", "http"),
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
