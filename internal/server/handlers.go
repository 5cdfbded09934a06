package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/errors"
)

// getSettings returns the current configuration.
func (s *Server) getSettings(c *gin.Context) {
	cfg := s.cfg.Snapshot()
	c.JSON(http.StatusOK, cfg)
}

// putSettings validates and persists a full configuration. The new
// settings take effect on the next indexing run.
func (s *Server) putSettings(c *gin.Context) {
	var cfg config.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.cfg.Update(cfg); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("settings_updated")
	c.JSON(http.StatusOK, cfg)
}

// triggerIndex requests an indexing run.
func (s *Server) triggerIndex(c *gin.Context) {
	if err := s.svc.Trigger(); err != nil {
		if errors.GetCode(err) == errors.ErrCodeAlreadyRunning {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// getStatus returns the current indexing status snapshot.
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

// clearIndex drops every indexed document.
func (s *Server) clearIndex(c *gin.Context) {
	if err := s.svc.ClearIndex(c.Request.Context()); err != nil {
		if errors.GetCode(err) == errors.ErrCodeClearDenied {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("clear_index_failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// getStats returns index statistics.
func (s *Server) getStats(c *gin.Context) {
	stats, err := s.svc.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("stats_failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
