package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSPIMCore/internal/interfaces"
	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

func (s *Server) history(c *gin.Context) (interfaces.RunHistory, bool) {
	h := s.lm.RunHistory()
	if h == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("RUNS_503", "Run history requires a database", nil))
		return nil, false
	}
	return h, true
}

// GET /api/v1/runs[?limit=n]
func (s *Server) listRuns(c *gin.Context) {
	h, ok := s.history(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := h.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RUNS_500", "Failed to list runs", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	h, ok := s.history(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUNS_400", "Invalid run id", err.Error()))
		return
	}

	run, err := h.GetRun(c.Request.Context(), id)
	if err != nil {
		abortWith(c, "RUNS", "Run not available", err)
		return
	}
	c.JSON(http.StatusOK, run)
}
