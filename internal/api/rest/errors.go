package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/panel"
	"github.com/KevinKickass/OpenSPIMCore/internal/script"
	"github.com/KevinKickass/OpenSPIMCore/internal/storage"
	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

// abortWith maps domain errors onto HTTP status codes.
func abortWith(c *gin.Context, prefix, message string, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, panel.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, acquisition.ErrListLocked):
		status = http.StatusConflict
	case errors.Is(err, script.ErrNoSession), errors.Is(err, storage.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, acquisition.ErrIndexRange),
		errors.Is(err, acquisition.ErrLastEntry),
		errors.Is(err, acquisition.ErrUnknownField),
		errors.Is(err, acquisition.ErrFieldType),
		errors.Is(err, acquisition.ErrZeroStep),
		errors.Is(err, acquisition.ErrFilename),
		errors.Is(err, acquisition.ErrEmptyList):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, types.NewErrorResponse(types.ErrorCode(prefix, status), message, err))
}
