package api

import (
	"net/http"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
	"github.com/ignite/campaign-journeys/internal/service/analysis"
	"github.com/ignite/campaign-journeys/internal/storage"
)

// CreateProject handles POST /api/projects
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var in analysis.CreateProjectInput
	if !decodeAndValidate(w, r, &in) {
		return
	}
	p, err := h.projects.CreateProject(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, p)
}

// ListProjects handles GET /api/projects?merchant_id=
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.ListProjects(r.Context(), r.URL.Query().Get("merchant_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"projects": projects})
}

// GetProject handles GET /api/projects/{projectID}
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.GetProject(r.Context(), pathParam(r, "projectID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, p)
}

// UpdateProject handles PUT /api/projects/{projectID}
func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var in analysis.UpdateProjectInput
	if !decodeAndValidate(w, r, &in) {
		return
	}
	p, err := h.projects.UpdateProject(r.Context(), pathParam(r, "projectID"), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, p)
}

// DeleteProject handles DELETE /api/projects/{projectID}
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.DeleteProject(r.Context(), pathParam(r, "projectID")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// ListProjectRoots handles GET /api/projects/{projectID}/roots
func (h *Handlers) ListProjectRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := h.projects.ListProjectRoots(r.Context(), pathParam(r, "projectID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if roots == nil {
		roots = []domain.ProjectRootCampaign{}
	}
	httputil.OK(w, map[string]any{"roots": roots})
}

type projectRootRequest struct {
	IsConfirmed *bool `json:"is_confirmed" validate:"required"`
}

// SetProjectRoot handles PUT /api/projects/{projectID}/roots/{campaignID}
func (h *Handlers) SetProjectRoot(w http.ResponseWriter, r *http.Request) {
	var req projectRootRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	err := h.projects.SetProjectRoot(r.Context(), pathParam(r, "projectID"), pathParam(r, "campaignID"), *req.IsConfirmed)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// RemoveProjectRoot handles DELETE /api/projects/{projectID}/roots/{campaignID}
func (h *Handlers) RemoveProjectRoot(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.RemoveProjectRoot(r.Context(), pathParam(r, "projectID"), pathParam(r, "campaignID")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// ListProjectTags handles GET /api/projects/{projectID}/tags
func (h *Handlers) ListProjectTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.projects.ListProjectTags(r.Context(), pathParam(r, "projectID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if tags == nil {
		tags = []domain.ProjectCampaignTag{}
	}
	httputil.OK(w, map[string]any{"tags": tags})
}

// SetProjectTag handles PUT /api/projects/{projectID}/tags/{campaignID}
func (h *Handlers) SetProjectTag(w http.ResponseWriter, r *http.Request) {
	var req setTagRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	err := h.projects.SetProjectTag(r.Context(), pathParam(r, "projectID"), pathParam(r, "campaignID"), *req.Tag)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// GetProjectResults handles GET /api/projects/{projectID}/results
func (h *Handlers) GetProjectResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.projects.GetResults(r.Context(), pathParam(r, "projectID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// ListProjectRuns handles GET /api/projects/{projectID}/runs?limit=
// Lists archived analysis runs, newest first.
func (h *Handlers) ListProjectRuns(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "run archive not configured")
		return
	}
	limit, ok := queryInt(r, "limit", 20)
	if !ok {
		httputil.BadRequest(w, "limit must be a non-negative integer")
		return
	}
	projectID := pathParam(r, "projectID")
	if _, err := h.projects.GetProject(r.Context(), projectID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	runs, err := h.archive.ListRuns(r.Context(), projectID, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	httputil.OK(w, map[string]any{"runs": runs})
}

// GetLatestSnapshot handles GET /api/projects/{projectID}/runs/latest
func (h *Handlers) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "run archive not configured")
		return
	}
	projectID := pathParam(r, "projectID")
	runs, err := h.archive.ListRuns(r.Context(), projectID, 1)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if len(runs) == 0 {
		httputil.NotFound(w, "no archived runs")
		return
	}
	snap, err := h.archive.GetSnapshot(r.Context(), runs[0].Key)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, snap)
}
