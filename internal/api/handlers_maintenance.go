package api

import (
	"net/http"

	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
)

// DeleteMerchantData handles DELETE /api/merchants/{merchantID}/data?worker=
// Only the named worker's events are removed; an empty worker means the
// global worker.
func (h *Handlers) DeleteMerchantData(w http.ResponseWriter, r *http.Request) {
	res, err := h.maintenance.DeleteMerchantData(r.Context(), pathParam(r, "merchantID"), r.URL.Query().Get("worker"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}
