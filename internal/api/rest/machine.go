package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/auth"
	"github.com/KevinKickass/OpenSPIMCore/internal/panel"
	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

// GET /api/v1/microscope/status
func (s *Server) getMicroscopeStatus(c *gin.Context) {
	st, err := s.lm.Panel().Status()
	if err != nil {
		abortWith(c, "MICROSCOPE", "Status unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   st,
		"progress": progressView(st),
	})
}

func progressView(st panel.Status) *panel.ProgressView {
	if st.Progress == nil {
		return nil
	}
	v := panel.NewProgressView(*st.Progress)
	return &v
}

// POST /api/v1/microscope/command
func (s *Server) executeCommand(c *gin.Context) {
	var req types.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MICROSCOPE_400", "Invalid request body", err.Error()))
		return
	}

	id, err := req.Issue(s.lm.Panel())
	if err != nil {
		s.logger.Warn("Microscope command refused",
			zap.String("command", req.Command),
			zap.Error(err))
		abortWith(c, "MICROSCOPE", "Command refused", err)
		return
	}

	s.logger.Info("Microscope command issued",
		zap.String("command", req.Command),
		zap.String("command_id", id.String()),
		zap.String("username", auth.Username(c)))

	c.JSON(http.StatusAccepted, types.CommandResponse{CommandID: id, Command: req.Command})
}

// GET /api/v1/state
func (s *Server) getState(c *gin.Context) {
	st, err := s.lm.Panel().Status()
	if err != nil {
		abortWith(c, "STATE", "State unavailable", err)
		return
	}
	c.JSON(http.StatusOK, st.State)
}

// PATCH /api/v1/state
// The change is applied by the controller; the outcome arrives as a
// state_changed or command_rejected event.
func (s *Server) patchState(c *gin.Context) {
	var changes map[string]any
	if err := c.ShouldBindJSON(&changes); err != nil || len(changes) == 0 {
		detail := "no changes given"
		if err != nil {
			detail = err.Error()
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("STATE_400", "Invalid request body", detail))
		return
	}

	id, err := s.lm.Panel().RequestChange(changes)
	if err != nil {
		abortWith(c, "STATE", "Change refused", err)
		return
	}
	c.JSON(http.StatusAccepted, types.CommandResponse{CommandID: id, Command: "change_request"})
}
