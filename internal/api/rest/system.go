package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/auth"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	s.logger.Warn("Shutdown requested over REST", zap.String("username", auth.Username(c)))
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	timeout := s.lm.Config().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// the request context ends with this response
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}
