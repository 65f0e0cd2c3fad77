package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/service/analysis"
	"github.com/ignite/campaign-journeys/internal/service/classify"
	"github.com/ignite/campaign-journeys/internal/service/graph"
	"github.com/ignite/campaign-journeys/internal/service/maintenance"
	"github.com/ignite/campaign-journeys/internal/service/paths"
	"github.com/ignite/campaign-journeys/internal/storage"
)

// RunArchive reads archived analysis runs. *storage.Archive implements it.
type RunArchive interface {
	ListRuns(ctx context.Context, projectID string, limit int) ([]storage.RunRecord, error)
	GetSnapshot(ctx context.Context, key string) (*domain.AnalysisSnapshot, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	paths       *paths.Service
	graph       *graph.Service
	classify    *classify.Service
	maintenance *maintenance.Service
	projects    *analysis.ProjectService
	queue       *analysis.Queue
	archive     RunArchive
	health      *HealthChecker
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	pathSvc *paths.Service,
	graphSvc *graph.Service,
	classifySvc *classify.Service,
	maintenanceSvc *maintenance.Service,
	projects *analysis.ProjectService,
	queue *analysis.Queue,
) *Handlers {
	return &Handlers{
		paths:       pathSvc,
		graph:       graphSvc,
		classify:    classifySvc,
		maintenance: maintenanceSvc,
		projects:    projects,
		queue:       queue,
	}
}

// SetArchive enables the archived-runs endpoints
func (h *Handlers) SetArchive(a RunArchive) {
	h.archive = a
}

// SetHealthChecker sets the dependency health checker
func (h *Handlers) SetHealthChecker(hc *HealthChecker) {
	h.health = hc
}

// pathParam returns a URL parameter with percent-escapes decoded. chi matches
// on the raw path, so encoded characters in recipients arrive escaped.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// queryInt parses an optional integer query parameter. A missing value
// returns def; a malformed one returns ok=false.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// queryFloat parses an optional non-negative float query parameter.
func queryFloat(r *http.Request, name string) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// queryList splits a comma-separated query parameter, dropping blanks.
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
