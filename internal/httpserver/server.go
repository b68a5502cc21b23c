package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	cfgpkg "github.com/fleet-rollout/orchestrator/internal/config"
)

// Server wraps a gin engine and the stdlib http.Server around it.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
}

// New builds the HTTP server with health and metrics routes registered.
func New(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, readyFn func() bool) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if readyFn == nil || readyFn() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{engine: r, srv: srv}
}

// Register lets callers add further routes before Start.
func (s *Server) Register(fn func(r *gin.Engine)) {
	fn(s.engine)
}

// Start runs the HTTP server (blocking).
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
