package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
)

// =============================================================================
// ERROR SANITIZER
// Maps service error kinds to status codes. Internal errors (database
// details, file paths) are NEVER returned to API consumers; the full error is
// logged server-side and the client gets a generic message.
// =============================================================================

// respondServiceError writes the response for an error returned by a service.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrInvalidDomain):
		httputil.Unprocessable(w, domain.ErrInvalidDomain.Error())
	case errors.Is(err, domain.ErrConflict):
		httputil.Conflict(w, domain.ErrConflict.Error())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nothing useful to write.
		logger.Debug("request cancelled", "path", r.URL.Path)
	default:
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
