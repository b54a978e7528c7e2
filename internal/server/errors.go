package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/internal/auth"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/engine"
	"github.com/kode4food/wireflow/internal/storage"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

var (
	ErrBadRequest    = errors.New("invalid request")
	ErrNotFound      = errors.New("not found")
	ErrFlowIDMissing = errors.New("flow id is required")
	ErrFlowExists    = errors.New("flow already exists")
)

// statusOf maps an error to the HTTP status reported for it
func statusOf(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrDeployInProgress),
		errors.Is(err, engine.ErrRevisionMismatch),
		errors.Is(err, ErrFlowExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNodeNotFound),
		errors.Is(err, engine.ErrFlowNotFound),
		errors.Is(err, ErrNotFound),
		errors.Is(err, storage.ErrLibraryEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrPersistFlows):
		return http.StatusInternalServerError
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, engine.ErrConfiguration),
		errors.Is(err, engine.ErrNotInjectable),
		errors.Is(err, api.ErrInvalidDefinition),
		errors.Is(err, api.ErrInvalidDeployMode),
		errors.Is(err, config.ErrInvalidSettings),
		errors.Is(err, ctxstore.ErrInvalidScope),
		errors.Is(err, storage.ErrInvalidLibraryPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.deps.Log.Error("Admin request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			log.Error(err))
	}
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func (s *Server) abort(c *gin.Context, err error) {
	s.writeError(c, err)
	c.Abort()
}

func errBadRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}
