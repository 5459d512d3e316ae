package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

func scriptID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCRIPT_400", "Invalid script id", err.Error()))
		return 0, false
	}
	return id, true
}

// GET /api/v1/scripts
func (s *Server) listScripts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.lm.Scripts().Sessions()})
}

// POST /api/v1/scripts
func (s *Server) createScript(c *gin.Context) {
	c.JSON(http.StatusCreated, s.lm.Scripts().NewSession())
}

// POST /api/v1/scripts/:id/execute {"script": "..."}
// Runs synchronously; "wait" lines block the request until the microscope
// is idle.
func (s *Server) executeScript(c *gin.Context) {
	id, ok := scriptID(c)
	if !ok {
		return
	}
	var req struct {
		Script string `json:"script" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCRIPT_400", "Invalid request body", err.Error()))
		return
	}

	n, err := s.lm.Scripts().Execute(c.Request.Context(), id, req.Script)
	if err != nil {
		abortWith(c, "SCRIPT", "Script failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": id, "lines_executed": n})
}

// DELETE /api/v1/scripts/:id
func (s *Server) closeScript(c *gin.Context) {
	id, ok := scriptID(c)
	if !ok {
		return
	}
	if err := s.lm.Scripts().Close(id); err != nil {
		abortWith(c, "SCRIPT", "Script session not closed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
