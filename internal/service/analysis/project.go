package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository"
)

// CreateProjectInput is the body of a project create request.
type CreateProjectInput struct {
	MerchantID  string   `json:"merchant_id" validate:"required"`
	Name        string   `json:"name" validate:"required,max=200"`
	WorkerNames []string `json:"worker_names" validate:"omitempty,dive,required"`
}

// UpdateProjectInput changes only the fields that are set.
type UpdateProjectInput struct {
	Name        *string               `json:"name" validate:"omitempty,min=1,max=200"`
	Status      *domain.ProjectStatus `json:"status" validate:"omitempty,oneof=active completed archived"`
	WorkerNames []string              `json:"worker_names" validate:"omitempty,dive,required"`
}

// ResultEdge is a project edge labelled for display. Tags come from the
// project's overrides, falling back to the campaign's own tag.
type ResultEdge struct {
	FromCampaignID string `json:"from_campaign_id"`
	FromSubject    string `json:"from_subject"`
	FromTag        int    `json:"from_tag"`
	ToCampaignID   string `json:"to_campaign_id"`
	ToSubject      string `json:"to_subject"`
	ToTag          int    `json:"to_tag"`
	UserCount      int    `json:"user_count"`
}

// ProjectResults is the output of a project's last analysis run.
type ProjectResults struct {
	ProjectID        string                       `json:"project_id"`
	MerchantID       string                       `json:"merchant_id"`
	WorkerNames      []string                     `json:"worker_names"`
	LastAnalysisTime *time.Time                   `json:"last_analysis_time"`
	Stats            *domain.AnalysisStats        `json:"stats"`
	Roots            []domain.ProjectRootCampaign `json:"roots"`
	Edges            []ResultEdge                 `json:"edges"`
}

// ProjectService manages analysis projects. Project roots and tags never
// touch merchant-global campaign rows.
type ProjectService struct {
	store repository.Store
	cache ResultCache
}

// NewProjectService creates the service. cache may be nil.
func NewProjectService(store repository.Store, cache ResultCache) *ProjectService {
	return &ProjectService{store: store, cache: cache}
}

func normalizeWorkers(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range in {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	if len(out) == 0 {
		out = []string{domain.DefaultWorkerName}
	}
	return out
}

// CreateProject creates an active project. The merchant must exist; the
// worker list defaults to the global worker.
func (s *ProjectService) CreateProject(ctx context.Context, in CreateProjectInput) (*domain.AnalysisProject, error) {
	if _, err := s.store.GetMerchant(ctx, in.MerchantID); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	p := &domain.AnalysisProject{
		ID:          uuid.New().String(),
		MerchantID:  in.MerchantID,
		Name:        strings.TrimSpace(in.Name),
		WorkerNames: normalizeWorkers(in.WorkerNames),
		Status:      domain.ProjectActive,
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	logger.Info("project created", "project_id", p.ID, "merchant_id", p.MerchantID, "workers", strings.Join(p.WorkerNames, ","))
	return p, nil
}

// GetProject returns a project.
func (s *ProjectService) GetProject(ctx context.Context, id string) (*domain.AnalysisProject, error) {
	return s.store.GetProject(ctx, id)
}

// ListProjects lists projects, optionally for one merchant.
func (s *ProjectService) ListProjects(ctx context.Context, merchantID string) ([]domain.AnalysisProject, error) {
	out, err := s.store.ListProjects(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.AnalysisProject{}
	}
	return out, nil
}

// UpdateProject applies the set fields of in.
func (s *ProjectService) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) (*domain.AnalysisProject, error) {
	var out *domain.AnalysisProject
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		p, err := q.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			p.Name = strings.TrimSpace(*in.Name)
		}
		if in.Status != nil {
			if !in.Status.Valid() {
				return fmt.Errorf("invalid status %q", *in.Status)
			}
			p.Status = *in.Status
		}
		if in.WorkerNames != nil {
			p.WorkerNames = normalizeWorkers(in.WorkerNames)
		}
		if err := q.UpdateProject(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	s.invalidate(ctx, id)
	return out, nil
}

// DeleteProject removes a project with its roots, tags and edges.
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.invalidate(ctx, id)
	logger.Info("project deleted", "project_id", id)
	return nil
}

// projectCampaign checks that both exist and belong to the same merchant.
func (s *ProjectService) projectCampaign(ctx context.Context, projectID, campaignID string) error {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.MerchantID != p.MerchantID {
		return fmt.Errorf("campaign %s not in project merchant: %w", campaignID, domain.ErrNotFound)
	}
	return nil
}

// SetProjectRoot adds or updates a root for the project.
func (s *ProjectService) SetProjectRoot(ctx context.Context, projectID, campaignID string, confirmed bool) error {
	if err := s.projectCampaign(ctx, projectID, campaignID); err != nil {
		return fmt.Errorf("set project root: %w", err)
	}
	err := s.store.UpsertProjectRoot(ctx, domain.ProjectRootCampaign{
		ProjectID:   projectID,
		CampaignID:  campaignID,
		IsConfirmed: confirmed,
	})
	if err != nil {
		return fmt.Errorf("set project root: %w", err)
	}
	s.invalidate(ctx, projectID)
	return nil
}

// RemoveProjectRoot deletes a project root.
func (s *ProjectService) RemoveProjectRoot(ctx context.Context, projectID, campaignID string) error {
	if err := s.store.DeleteProjectRoot(ctx, projectID, campaignID); err != nil {
		return fmt.Errorf("remove project root: %w", err)
	}
	s.invalidate(ctx, projectID)
	return nil
}

// ListProjectRoots lists a project's roots.
func (s *ProjectService) ListProjectRoots(ctx context.Context, projectID string) ([]domain.ProjectRootCampaign, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListProjectRoots(ctx, projectID)
}

// SetProjectTag overrides a campaign's tag within the project.
func (s *ProjectService) SetProjectTag(ctx context.Context, projectID, campaignID string, tag int) error {
	if !domain.ValidTag(tag) {
		return fmt.Errorf("tag %d out of range 0-%d: %w", tag, domain.MaxCampaignTag, domain.ErrInvalidInput)
	}
	if err := s.projectCampaign(ctx, projectID, campaignID); err != nil {
		return fmt.Errorf("set project tag: %w", err)
	}
	err := s.store.UpsertProjectTag(ctx, domain.ProjectCampaignTag{ProjectID: projectID, CampaignID: campaignID, Tag: tag})
	if err != nil {
		return fmt.Errorf("set project tag: %w", err)
	}
	s.invalidate(ctx, projectID)
	return nil
}

// ListProjectTags lists a project's tag overrides.
func (s *ProjectService) ListProjectTags(ctx context.Context, projectID string) ([]domain.ProjectCampaignTag, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListProjectTags(ctx, projectID)
}

// GetResults returns the project's last analysis output, read through the
// cache when one is configured.
func (s *ProjectService) GetResults(ctx context.Context, projectID string) (*ProjectResults, error) {
	key := resultsKey(projectID)
	if s.cache != nil {
		var cached ProjectResults
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			logger.Warn("results cache read failed", "project_id", projectID, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	res, err := s.loadResults(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, res); err != nil {
			logger.Warn("results cache write failed", "project_id", projectID, "error", err)
		}
	}
	return res, nil
}

func (s *ProjectService) loadResults(ctx context.Context, projectID string) (*ProjectResults, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	roots, err := s.store.ListProjectRoots(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	tags, err := s.store.ListProjectTags(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	edges, err := s.store.ListProjectEdges(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	campaigns, err := s.store.ListCampaigns(ctx, p.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	subjects := make(map[string]string, len(campaigns))
	tagOf := make(map[string]int, len(campaigns))
	for _, c := range campaigns {
		subjects[c.ID] = c.Subject
		tagOf[c.ID] = c.Tag
	}
	for _, t := range tags {
		tagOf[t.CampaignID] = t.Tag
	}

	res := &ProjectResults{
		ProjectID:        p.ID,
		MerchantID:       p.MerchantID,
		WorkerNames:      p.WorkerNames,
		LastAnalysisTime: p.LastAnalysisTime,
		Stats:            p.LastStats,
		Roots:            roots,
		Edges:            make([]ResultEdge, 0, len(edges)),
	}
	if res.Roots == nil {
		res.Roots = []domain.ProjectRootCampaign{}
	}
	for _, e := range edges {
		res.Edges = append(res.Edges, ResultEdge{
			FromCampaignID: e.FromCampaignID,
			FromSubject:    subjects[e.FromCampaignID],
			FromTag:        tagOf[e.FromCampaignID],
			ToCampaignID:   e.ToCampaignID,
			ToSubject:      subjects[e.ToCampaignID],
			ToTag:          tagOf[e.ToCampaignID],
			UserCount:      e.UserCount,
		})
	}
	return res, nil
}

func (s *ProjectService) invalidate(ctx context.Context, projectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, resultsKey(projectID)); err != nil {
		logger.Warn("results cache invalidation failed", "project_id", projectID, "error", err)
	}
}
