// Package analysis runs project-scoped journey analysis.
//
// The Orchestrator computes a project's paths, edges and user classification
// from the events of its workers only, and persists the edges and summary
// stats. The Queue serializes Orchestrator runs process-wide. ProjectService
// is the CRUD surface for projects, their roots and tags, and their cached
// results.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository"
	"github.com/ignite/campaign-journeys/internal/service/classify"
	"github.com/ignite/campaign-journeys/internal/service/graph"
	"github.com/ignite/campaign-journeys/internal/service/paths"
)

// Stages reported through ProgressFunc, in order.
const (
	StageLoading    = "loading_project"
	StagePaths      = "building_paths"
	StageEdges      = "computing_edges"
	StageClassify   = "classifying_users"
	StagePersisting = "persisting_results"
)

// Progress is a coarse marker of how far a run has got.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress markers. It may be nil.
type ProgressFunc func(Progress)

// ResultCache is a JSON key/value cache for project results.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, keys ...string) error
}

// Archiver stores a snapshot of every completed run.
type Archiver interface {
	SaveSnapshot(ctx context.Context, s domain.AnalysisSnapshot) error
}

func resultsKey(projectID string) string {
	return "project-results:" + projectID
}

// Orchestrator runs one project analysis end to end.
type Orchestrator struct {
	store      repository.Store
	builder    *paths.Service
	classifier classify.Classifier
	cache      ResultCache
	archive    Archiver
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator using the FullSweep classifier and
// no cache or archive.
func NewOrchestrator(store repository.Store, builder *paths.Service) *Orchestrator {
	return &Orchestrator{
		store:      store,
		builder:    builder,
		classifier: classify.FullSweep{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetCache sets the results cache invalidated after each run.
func (o *Orchestrator) SetCache(c ResultCache) { o.cache = c }

// SetArchiver sets where completed runs are archived.
func (o *Orchestrator) SetArchiver(a Archiver) { o.archive = a }

// SetClassifier swaps the classification strategy.
func (o *Orchestrator) SetClassifier(c classify.Classifier) { o.classifier = c }

// AnalyzeProject recomputes the project's edges and stats from its workers'
// events and its confirmed roots. Merchant-global paths and campaign flags
// are never modified. ctx is checked between stages.
func (o *Orchestrator) AnalyzeProject(ctx context.Context, projectID string, onProgress ProgressFunc) (*domain.AnalysisStats, error) {
	start := time.Now()
	report := func(stage string, pct int, msg string) {
		if onProgress != nil {
			onProgress(Progress{Stage: stage, Percent: pct, Message: msg})
		}
	}

	report(StageLoading, 5, "")
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	workers := project.WorkerNames
	if len(workers) == 0 {
		workers = []string{domain.DefaultWorkerName}
	}
	logger.Info("analysis started",
		"project_id", projectID, "merchant_id", project.MerchantID, "workers", fmt.Sprint(workers))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(StagePaths, 20, "")
	scoped, events, err := o.builder.ScopedPaths(ctx, project.MerchantID, paths.PathRebuildOptions{WorkerNames: workers})
	if err != nil {
		return nil, fmt.Errorf("build paths: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(StageEdges, 50, fmt.Sprintf("%d recipients", len(scoped)))
	edges := graph.AggregateEdges(scoped)
	for i := range edges {
		edges[i].ProjectID = projectID
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(StageClassify, 70, "")
	roots, err := o.store.ListProjectRoots(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load roots: %w", err)
	}
	rootSet := make(map[string]bool)
	var rootIDs []string
	for _, r := range roots {
		if r.IsConfirmed {
			rootSet[r.CampaignID] = true
			rootIDs = append(rootIDs, r.CampaignID)
		}
	}
	users := classify.Summarize(o.classifier.Classify(scoped, rootSet))

	stats := domain.AnalysisStats{
		TotalRecipients: users.TotalRecipients,
		NewUsers:        users.NewUsers,
		OldUsers:        users.OldUsers,
		TotalEvents:     events,
		EdgeCount:       len(edges),
	}
	for _, p := range scoped {
		if len(p.CampaignIDs) > stats.MaxPathLength {
			stats.MaxPathLength = len(p.CampaignIDs)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(StagePersisting, 90, "")
	completed := o.now()
	stats.CompletedAt = completed
	stats.Duration = time.Since(start)
	err = o.store.RunInTx(ctx, func(q repository.Queries) error {
		if err := q.ReplaceProjectEdges(ctx, projectID, edges); err != nil {
			return err
		}
		return q.SetProjectAnalysis(ctx, projectID, completed, stats)
	})
	if err != nil {
		return nil, fmt.Errorf("persist results: %w", err)
	}

	if o.cache != nil {
		if err := o.cache.Delete(ctx, resultsKey(projectID)); err != nil {
			logger.Warn("results cache invalidation failed", "project_id", projectID, "error", err)
		}
	}
	if o.archive != nil {
		snap := domain.AnalysisSnapshot{
			ProjectID:   projectID,
			MerchantID:  project.MerchantID,
			Name:        project.Name,
			WorkerNames: workers,
			RootIDs:     rootIDs,
			Stats:       stats,
			Edges:       edges,
		}
		if err := o.archive.SaveSnapshot(ctx, snap); err != nil {
			logger.Warn("analysis archive failed", "project_id", projectID, "error", err)
		}
	}

	logger.Info("analysis completed",
		"project_id", projectID, "recipients", stats.TotalRecipients, "new_users", stats.NewUsers,
		"edges", stats.EdgeCount, "duration", stats.Duration.Round(time.Millisecond))
	return &stats, nil
}
