package api

import (
	"net/http"

	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
)

// ListRoots handles GET /api/merchants/{merchantID}/roots
func (h *Handlers) ListRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := h.classify.ListRootCampaigns(r.Context(), pathParam(r, "merchantID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"roots": roots})
}

// ListRootCandidates handles GET /api/merchants/{merchantID}/roots/candidates
func (h *Handlers) ListRootCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.classify.ListRootCandidates(r.Context(), pathParam(r, "merchantID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"candidates": candidates})
}

// DetectRoots handles POST /api/merchants/{merchantID}/roots/detect
func (h *Handlers) DetectRoots(w http.ResponseWriter, r *http.Request) {
	res, err := h.classify.DetectRootCandidates(r.Context(), pathParam(r, "merchantID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// RecalculateUsers handles POST /api/merchants/{merchantID}/users/recalculate
func (h *Handlers) RecalculateUsers(w http.ResponseWriter, r *http.Request) {
	res, err := h.classify.RecalculateAllNewUsers(r.Context(), pathParam(r, "merchantID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// GetUserStats handles GET /api/merchants/{merchantID}/users/stats?workers=a,b
func (h *Handlers) GetUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.classify.GetUserTypeStats(r.Context(), pathParam(r, "merchantID"), queryList(r, "workers"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, stats)
}

type setRootRequest struct {
	IsRoot *bool `json:"is_root" validate:"required"`
}

// SetCampaignRoot handles PUT /api/campaigns/{campaignID}/root
func (h *Handlers) SetCampaignRoot(w http.ResponseWriter, r *http.Request) {
	var req setRootRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	c, err := h.classify.SetRootCampaign(r.Context(), pathParam(r, "campaignID"), *req.IsRoot)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, c)
}

type setTagRequest struct {
	Tag *int `json:"tag" validate:"required,min=0,max=4"`
}

// SetCampaignTag handles PUT /api/campaigns/{campaignID}/tag
func (h *Handlers) SetCampaignTag(w http.ResponseWriter, r *http.Request) {
	var req setTagRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.classify.SetCampaignTag(r.Context(), pathParam(r, "campaignID"), *req.Tag); err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

type setValuableRequest struct {
	Valuable *bool `json:"valuable" validate:"required"`
}

// SetCampaignValuable handles PUT /api/campaigns/{campaignID}/valuable
func (h *Handlers) SetCampaignValuable(w http.ResponseWriter, r *http.Request) {
	var req setValuableRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.classify.SetCampaignValuable(r.Context(), pathParam(r, "campaignID"), *req.Valuable); err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}
