package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository"
)

// Service is the root and classification engine for merchant-global data.
type Service struct {
	store      repository.Store
	classifier Classifier
	detection  DetectionConfig
}

// NewService creates the engine with the FullSweep classifier.
func NewService(store repository.Store, detection DetectionConfig) *Service {
	if len(detection.Keywords) == 0 {
		detection.Keywords = DefaultKeywords
	}
	return &Service{store: store, classifier: FullSweep{}, detection: detection}
}

// WithClassifier swaps the classification strategy.
func (s *Service) WithClassifier(c Classifier) *Service {
	s.classifier = c
	return s
}

// RecalcResult summarises a full reclassification sweep.
type RecalcResult struct {
	MerchantID string               `json:"merchant_id"`
	Roots      int                  `json:"roots"`
	Stats      domain.UserTypeStats `json:"stats"`
}

// DetectionResult lists the candidates flagged by DetectRootCandidates.
type DetectionResult struct {
	MerchantID string      `json:"merchant_id"`
	Candidates []Candidate `json:"candidates"`
	Cleared    int         `json:"cleared"`
}

// SetRootCampaign confirms or clears a campaign's root flag. Confirming also
// clears its candidate flag.
func (s *Service) SetRootCampaign(ctx context.Context, campaignID string, isRoot bool) (*domain.Campaign, error) {
	var out *domain.Campaign
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetCampaign(ctx, campaignID); err != nil {
			return err
		}
		if err := q.SetCampaignRoot(ctx, campaignID, isRoot); err != nil {
			return err
		}
		if isRoot {
			if err := q.SetCampaignRootCandidate(ctx, campaignID, false, ""); err != nil {
				return err
			}
		}
		c, err := q.GetCampaign(ctx, campaignID)
		out = c
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set root campaign: %w", err)
	}
	logger.Info("root campaign updated", "campaign_id", campaignID, "is_root", isRoot)
	return out, nil
}

// SetCampaignTag sets a campaign's 0-4 tag.
func (s *Service) SetCampaignTag(ctx context.Context, campaignID string, tag int) error {
	if !domain.ValidTag(tag) {
		return fmt.Errorf("tag %d out of range 0-%d: %w", tag, domain.MaxCampaignTag, domain.ErrInvalidInput)
	}
	if err := s.store.SetCampaignTag(ctx, campaignID, tag); err != nil {
		return fmt.Errorf("set campaign tag: %w", err)
	}
	return nil
}

// SetCampaignValuable flags a campaign as valuable.
func (s *Service) SetCampaignValuable(ctx context.Context, campaignID string, valuable bool) error {
	if err := s.store.SetCampaignValuable(ctx, campaignID, valuable); err != nil {
		return fmt.Errorf("set campaign valuable: %w", err)
	}
	return nil
}

// DetectRootCandidates flags campaigns matching the keyword or first-position
// rules as root candidates and clears the flag on campaigns that no longer
// match. It never confirms a root.
func (s *Service) DetectRootCandidates(ctx context.Context, merchantID string) (*DetectionResult, error) {
	res := &DetectionResult{MerchantID: merchantID, Candidates: []Candidate{}}
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetMerchant(ctx, merchantID); err != nil {
			return err
		}
		campaigns, err := q.ListCampaigns(ctx, merchantID)
		if err != nil {
			return err
		}
		entries, err := q.ListPathEntries(ctx, merchantID)
		if err != nil {
			return err
		}
		found := detect(campaigns, domain.PathsFromEntries(entries), s.detection)

		for _, c := range campaigns {
			reason, ok := found[c.ID]
			switch {
			case ok:
				if err := q.SetCampaignRootCandidate(ctx, c.ID, true, reason); err != nil {
					return err
				}
				res.Candidates = append(res.Candidates, Candidate{CampaignID: c.ID, Subject: c.Subject, Reason: reason})
			case c.IsRootCandidate:
				if err := q.SetCampaignRootCandidate(ctx, c.ID, false, ""); err != nil {
					return err
				}
				res.Cleared++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("detect root candidates: %w", err)
	}
	logger.Info("root candidates detected",
		"merchant_id", merchantID, "candidates", len(res.Candidates), "cleared", res.Cleared)
	return res, nil
}

// RecalculateAllNewUsers resets every path entry's classification for the
// merchant and recomputes it from the confirmed root set, in one transaction.
func (s *Service) RecalculateAllNewUsers(ctx context.Context, merchantID string) (*RecalcResult, error) {
	start := time.Now()
	res := &RecalcResult{MerchantID: merchantID}

	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetMerchant(ctx, merchantID); err != nil {
			return err
		}
		if err := q.LockMerchantPaths(ctx, merchantID); err != nil {
			return err
		}
		if err := q.ResetClassification(ctx, merchantID); err != nil {
			return err
		}
		roots, err := s.rootSet(ctx, q, merchantID)
		if err != nil {
			return err
		}
		entries, err := q.ListPathEntries(ctx, merchantID)
		if err != nil {
			return err
		}
		results := s.classifier.Classify(domain.PathsFromEntries(entries), roots)
		for _, c := range results {
			var first *string
			if c.FirstRootCampaignID != "" {
				id := c.FirstRootCampaignID
				first = &id
			}
			if err := q.SetRecipientClassification(ctx, merchantID, c.Recipient, c.IsNewUser, first); err != nil {
				return err
			}
		}
		res.Roots = len(roots)
		res.Stats = Summarize(results)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recalculate new users: %w", err)
	}
	logger.Info("new users recalculated",
		"merchant_id", merchantID, "roots", res.Roots, "recipients", res.Stats.TotalRecipients,
		"new_users", res.Stats.NewUsers, "duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (s *Service) rootSet(ctx context.Context, q repository.Queries, merchantID string) (map[string]bool, error) {
	campaigns, err := q.ListCampaigns(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	roots := make(map[string]bool)
	for _, c := range campaigns {
		if c.IsRoot {
			roots[c.ID] = true
		}
	}
	return roots, nil
}

// GetUserTypeStats partitions the merchant's recipients by stored
// classification. Unclassified recipients count as old users. A non-empty
// workerNames keeps only recipients with at least one event from those
// workers.
func (s *Service) GetUserTypeStats(ctx context.Context, merchantID string, workerNames []string) (*domain.UserTypeStats, error) {
	if _, err := s.store.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListPathEntries(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("user type stats: %w", err)
	}

	var allowed map[string]bool
	if len(workerNames) > 0 {
		recipients, err := s.store.ListEventRecipients(ctx, merchantID, repository.EventFilter{WorkerNames: workerNames})
		if err != nil {
			return nil, fmt.Errorf("user type stats: %w", err)
		}
		allowed = make(map[string]bool, len(recipients))
		for _, r := range recipients {
			allowed[r] = true
		}
	}

	var cs []Classification
	for _, p := range domain.PathsFromEntries(entries) {
		if allowed != nil && !allowed[p.Recipient] {
			continue
		}
		cs = append(cs, Classification{
			Recipient: p.Recipient,
			IsNewUser: p.IsNewUser != nil && *p.IsNewUser,
		})
	}
	st := Summarize(cs)
	return &st, nil
}

// ListRootCampaigns returns the merchant's confirmed roots.
func (s *Service) ListRootCampaigns(ctx context.Context, merchantID string) ([]domain.Campaign, error) {
	return s.filterCampaigns(ctx, merchantID, func(c domain.Campaign) bool { return c.IsRoot })
}

// ListRootCandidates returns unconfirmed candidates.
func (s *Service) ListRootCandidates(ctx context.Context, merchantID string) ([]domain.Campaign, error) {
	return s.filterCampaigns(ctx, merchantID, func(c domain.Campaign) bool { return c.IsRootCandidate && !c.IsRoot })
}

func (s *Service) filterCampaigns(ctx context.Context, merchantID string, keep func(domain.Campaign) bool) ([]domain.Campaign, error) {
	if _, err := s.store.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	campaigns, err := s.store.ListCampaigns(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	out := []domain.Campaign{}
	for _, c := range campaigns {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}
