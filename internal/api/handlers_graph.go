package api

import (
	"net/http"

	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
	"github.com/ignite/campaign-journeys/internal/service/graph"
)

// GetLevels handles GET /api/merchants/{merchantID}/levels
func (h *Handlers) GetLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.graph.GetLevels(r.Context(), pathParam(r, "merchantID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, levels)
}

// GetFlow handles GET /api/merchants/{merchantID}/flow?start=&max_level=
func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	maxLevel, ok := queryInt(r, "max_level", 0)
	if !ok {
		httputil.BadRequest(w, "max_level must be a non-negative integer")
		return
	}
	flow, err := h.graph.GetFlow(r.Context(), pathParam(r, "merchantID"), graph.FlowOptions{
		StartCampaignID: r.URL.Query().Get("start"),
		MaxLevel:        maxLevel,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, flow)
}

// GetTransitions handles GET /api/merchants/{merchantID}/transitions?start=
func (h *Handlers) GetTransitions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.graph.GetTransitions(r.Context(), pathParam(r, "merchantID"), r.URL.Query().Get("start"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []graph.Transition{}
	}
	httputil.OK(w, map[string]any{"transitions": rows})
}

// GetBranches handles GET /api/merchants/{merchantID}/branches
// Query: start, min_path_length, main_path_threshold (percent, 0-100).
func (h *Handlers) GetBranches(w http.ResponseWriter, r *http.Request) {
	var q graph.BranchQuery
	if r.URL.Query().Get("min_path_length") != "" {
		minLen, ok := queryInt(r, "min_path_length", 0)
		if !ok {
			httputil.BadRequest(w, "min_path_length must be a non-negative integer")
			return
		}
		q.MinPathLength = &minLen
	}
	if r.URL.Query().Get("main_path_threshold") != "" {
		threshold, ok := queryFloat(r, "main_path_threshold")
		if !ok || threshold > 100 {
			httputil.BadRequest(w, "main_path_threshold must be between 0 and 100")
			return
		}
		q.MainPathThreshold = &threshold
	}
	out, err := h.graph.GetBranchAnalysis(r.Context(), pathParam(r, "merchantID"), r.URL.Query().Get("start"), q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, out)
}
