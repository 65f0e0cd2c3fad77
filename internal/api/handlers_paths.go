package api

import (
	"net/http"

	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
	"github.com/ignite/campaign-journeys/internal/service/paths"
)

// TrackEvent handles POST /api/events
func (h *Handlers) TrackEvent(w http.ResponseWriter, r *http.Request) {
	var in paths.TrackInput
	if !decodeAndValidate(w, r, &in) {
		return
	}
	res, err := h.paths.TrackEvent(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, res)
}

// GetRecipientPath handles GET /api/merchants/{merchantID}/paths/{recipient}
func (h *Handlers) GetRecipientPath(w http.ResponseWriter, r *http.Request) {
	merchantID := pathParam(r, "merchantID")
	recipient := pathParam(r, "recipient")

	entries, err := h.paths.GetRecipientPath(r.Context(), merchantID, recipient)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{
		"merchant_id": merchantID,
		"recipient":   recipient,
		"entries":     entries,
	})
}

type rebuildRequest struct {
	WorkerNames []string `json:"worker_names" validate:"omitempty,dive,required"`
}

// RebuildPaths handles POST /api/merchants/{merchantID}/paths/rebuild
// The body is optional; without worker_names every worker's events are used.
func (h *Handlers) RebuildPaths(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, &req) {
			return
		}
	}
	res, err := h.paths.RebuildPaths(r.Context(), pathParam(r, "merchantID"), paths.PathRebuildOptions{
		WorkerNames: req.WorkerNames,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}
