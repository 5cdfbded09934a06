// Package server exposes the HTTP control surface: settings, index
// control, statistics, and a WebSocket status stream.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/pipeline"
)

// shutdownTimeout bounds graceful shutdown on exit.
const shutdownTimeout = 5 * time.Second

// Server is the HTTP control surface.
type Server struct {
	cfg    *config.Store
	svc    *pipeline.Service
	logger *slog.Logger
}

// New creates the control server.
func New(cfg *config.Store, svc *pipeline.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, svc: svc, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)

	api.PATCH("/index", s.triggerIndex)
	api.GET("/index", s.getStatus)
	api.DELETE("/index", s.clearIndex)
	api.GET("/index/stats", s.getStats)
	api.GET("/index/ws", s.statusStream)

	return r
}

// ListenAndServe runs the server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:    address,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", slog.String("address", address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
