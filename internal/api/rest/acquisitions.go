package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

type listResponse struct {
	Entries []acquisition.Entry `json:"entries"`
	Header  []string            `json:"header"`
	Locked  bool                `json:"locked"`
}

type pathRequest struct {
	Path string `json:"path"`
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "Invalid entry index", err.Error()))
		return 0, false
	}
	return i, true
}

// GET /api/v1/acquisitions
func (s *Server) getList(c *gin.Context) {
	s.respondList(c, http.StatusOK)
}

func (s *Server) respondList(c *gin.Context, status int) {
	entries, locked, err := s.lm.Panel().List()
	if err != nil {
		abortWith(c, "ACQ", "List unavailable", err)
		return
	}
	c.JSON(status, listResponse{
		Entries: entries,
		Header:  acquisition.Header(),
		Locked:  locked,
	})
}

// PUT /api/v1/acquisitions
// The body is a list document; missing fields take the entry defaults.
func (s *Server) replaceList(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "Invalid request body", err.Error()))
		return
	}
	list, err := acquisition.Decode(body)
	if err != nil {
		abortWith(c, "ACQ", "Invalid acquisition list", err)
		return
	}
	if err := s.lm.Panel().ReplaceList(list.Entries()); err != nil {
		abortWith(c, "ACQ", "List not replaced", err)
		return
	}
	s.getList(c)
}

// GET /api/v1/acquisitions/summary
func (s *Server) getSummary(c *gin.Context) {
	sum, err := s.lm.Panel().Summary()
	if err != nil {
		abortWith(c, "ACQ", "Summary unavailable", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// POST /api/v1/acquisitions/entries[?index=n]
func (s *Server) addEntry(c *gin.Context) {
	e := acquisition.NewEntry()
	if err := c.ShouldBindJSON(&e); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "Invalid request body", err.Error()))
		return
	}

	var err error
	if idx := c.Query("index"); idx != "" {
		i, perr := strconv.Atoi(idx)
		if perr != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "Invalid entry index", perr.Error()))
			return
		}
		err = s.lm.Panel().InsertEntry(i, e)
	} else {
		err = s.lm.Panel().AddEntry(e)
	}
	if err != nil {
		abortWith(c, "ACQ", "Entry not added", err)
		return
	}
	s.respondList(c, http.StatusCreated)
}

// PATCH /api/v1/acquisitions/entries/:index
func (s *Server) updateEntry(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "Invalid request body", err.Error()))
		return
	}
	if err := s.lm.Panel().UpdateEntry(i, fields); err != nil {
		abortWith(c, "ACQ", "Entry not updated", err)
		return
	}
	s.getList(c)
}

// DELETE /api/v1/acquisitions/entries/:index
func (s *Server) removeEntry(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	if err := s.lm.Panel().RemoveEntry(i); err != nil {
		abortWith(c, "ACQ", "Entry not removed", err)
		return
	}
	s.getList(c)
}

// POST /api/v1/acquisitions/entries/:index/move {"to": n}
func (s *Server) moveEntry(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var req struct {
		To *int `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "Invalid request body", err.Error()))
		return
	}
	if err := s.lm.Panel().MoveEntry(i, *req.To); err != nil {
		abortWith(c, "ACQ", "Entry not moved", err)
		return
	}
	s.getList(c)
}

func (s *Server) listPath(c *gin.Context) (string, bool) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "Invalid request body", err.Error()))
		return "", false
	}
	if req.Path == "" {
		req.Path = s.lm.Config().Acquisition.ListPath
	}
	if req.Path == "" {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACQ_400", "No path given and no default list path configured", nil))
		return "", false
	}
	return req.Path, true
}

// POST /api/v1/acquisitions/load
func (s *Server) loadList(c *gin.Context) {
	path, ok := s.listPath(c)
	if !ok {
		return
	}
	if err := s.lm.Panel().LoadList(path); err != nil {
		abortWith(c, "ACQ", "List not loaded", err)
		return
	}
	s.getList(c)
}

// POST /api/v1/acquisitions/save
func (s *Server) saveList(c *gin.Context) {
	path, ok := s.listPath(c)
	if !ok {
		return
	}
	if err := s.lm.Panel().SaveList(path); err != nil {
		abortWith(c, "ACQ", "List not saved", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}
