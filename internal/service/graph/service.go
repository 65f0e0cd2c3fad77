package graph

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository"
)

// Service runs the graph computations over a merchant's stored paths and
// labels the results with campaign subjects.
type Service struct {
	store    repository.Queries
	defaults BranchOptions
}

// NewService creates a graph service. defaults fill in zero-valued branch
// options.
func NewService(store repository.Queries, defaults BranchOptions) *Service {
	return &Service{store: store, defaults: defaults}
}

func (s *Service) load(ctx context.Context, merchantID string) ([]domain.Path, map[string]string, error) {
	if _, err := s.store.GetMerchant(ctx, merchantID); err != nil {
		return nil, nil, err
	}
	entries, err := s.store.ListPathEntries(ctx, merchantID)
	if err != nil {
		return nil, nil, fmt.Errorf("load paths: %w", err)
	}
	campaigns, err := s.store.ListCampaigns(ctx, merchantID)
	if err != nil {
		return nil, nil, fmt.Errorf("load campaigns: %w", err)
	}
	subjects := make(map[string]string, len(campaigns))
	for _, c := range campaigns {
		subjects[c.ID] = c.Subject
	}
	return domain.PathsFromEntries(entries), subjects, nil
}

// GetLevels returns per-level campaign popularity for a merchant.
func (s *Service) GetLevels(ctx context.Context, merchantID string) (*Levels, error) {
	paths, subjects, err := s.load(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	out := ComputeLevels(paths)
	for i := range out.Levels {
		for j := range out.Levels[i].Campaigns {
			c := &out.Levels[i].Campaigns[j]
			c.Subject = subjects[c.CampaignID]
		}
	}
	return &out, nil
}

// GetFlow returns the flow graph for a merchant.
func (s *Service) GetFlow(ctx context.Context, merchantID string, opts FlowOptions) (*Flow, error) {
	paths, subjects, err := s.load(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStart(ctx, merchantID, opts.StartCampaignID); err != nil {
		return nil, err
	}
	f := ComputeFlow(paths, opts)
	for i := range f.Nodes {
		f.Nodes[i].Subject = subjects[f.Nodes[i].CampaignID]
	}
	return &f, nil
}

// GetTransitions returns the transition table from an optional start campaign.
func (s *Service) GetTransitions(ctx context.Context, merchantID, startCampaignID string) ([]Transition, error) {
	paths, subjects, err := s.load(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStart(ctx, merchantID, startCampaignID); err != nil {
		return nil, err
	}
	rows := ComputeTransitions(ComputeFlow(paths, FlowOptions{StartCampaignID: startCampaignID}))
	for i := range rows {
		rows[i].FromSubject = subjects[rows[i].FromCampaignID]
		rows[i].ToSubject = subjects[rows[i].ToCampaignID]
	}
	return rows, nil
}

// BranchQuery overrides the configured branch options. A nil field keeps the
// default, so an explicit zero is honoured.
type BranchQuery struct {
	MinPathLength     *int
	MainPathThreshold *float64
}

// GetBranchAnalysis classifies the flow edges from an optional start campaign.
func (s *Service) GetBranchAnalysis(ctx context.Context, merchantID, startCampaignID string, q BranchQuery) (*BranchAnalysis, error) {
	paths, _, err := s.load(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStart(ctx, merchantID, startCampaignID); err != nil {
		return nil, err
	}
	opts := s.defaults
	if q.MinPathLength != nil {
		opts.MinPathLength = *q.MinPathLength
	}
	if q.MainPathThreshold != nil {
		opts.MainPathThreshold = *q.MainPathThreshold
	}
	out := ComputeBranches(ComputeFlow(paths, FlowOptions{StartCampaignID: startCampaignID}), opts)
	return &out, nil
}

// checkStart rejects a start campaign that does not belong to the merchant.
func (s *Service) checkStart(ctx context.Context, merchantID, campaignID string) error {
	if campaignID == "" {
		return nil
	}
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.MerchantID != merchantID {
		return fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}
	return nil
}
