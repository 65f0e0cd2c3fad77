// Package maintenance removes data without breaking the invariants of the
// derived path view. Worker-scoped deletes only touch the named worker's
// events; cleanups prune path entries and leave events in place.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/metrics"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository"
)

// DeleteResult reports what DeleteMerchantData removed.
type DeleteResult struct {
	MerchantID        string `json:"merchant_id"`
	WorkerName        string `json:"worker_name"`
	EventsDeleted     int64  `json:"events_deleted"`
	RecipientsRemoved int    `json:"recipients_removed"`
	EntriesDeleted    int64  `json:"entries_deleted"`
	RemainingEvents   int    `json:"remaining_events"`
	MerchantDeleted   bool   `json:"merchant_deleted"`
}

// CleanupResult reports one cleanup pass across merchants.
type CleanupResult struct {
	Merchants      int   `json:"merchants"`
	Recipients     int   `json:"recipients"`
	EntriesDeleted int64 `json:"entries_deleted"`
}

func (r *CleanupResult) add(recipients int, entries int64) {
	if recipients == 0 && entries == 0 {
		return
	}
	r.Merchants++
	r.Recipients += recipients
	r.EntriesDeleted += entries
}

// Service runs deletes and cleanups.
type Service struct {
	store repository.Store
}

// NewService creates a maintenance service.
func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// DeleteMerchantData deletes the merchant's events ingested by workerName.
// Recipients left with no events lose their path entries, and campaign and
// merchant counters are recomputed from surviving events. When no events
// remain the merchant is removed with its campaigns and paths.
func (s *Service) DeleteMerchantData(ctx context.Context, merchantID, workerName string) (*DeleteResult, error) {
	workerName = strings.TrimSpace(workerName)
	if workerName == "" {
		workerName = domain.DefaultWorkerName
	}
	res := &DeleteResult{MerchantID: merchantID, WorkerName: workerName}

	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetMerchant(ctx, merchantID); err != nil {
			return err
		}
		if err := q.LockMerchantPaths(ctx, merchantID); err != nil {
			return err
		}

		n, err := q.DeleteEmailEvents(ctx, merchantID, workerName)
		if err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		res.EventsDeleted = n

		orphans, err := q.ListRecipientsWithoutEvents(ctx, merchantID)
		if err != nil {
			return fmt.Errorf("list orphaned recipients: %w", err)
		}
		if len(orphans) > 0 {
			deleted, err := q.DeletePathEntriesForRecipients(ctx, merchantID, orphans)
			if err != nil {
				return fmt.Errorf("delete orphaned paths: %w", err)
			}
			res.RecipientsRemoved = len(orphans)
			res.EntriesDeleted = deleted
		}

		remaining, err := q.CountEmailEvents(ctx, merchantID)
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		res.RemainingEvents = remaining

		if remaining == 0 {
			deleted, err := q.DeletePathEntries(ctx, merchantID)
			if err != nil {
				return fmt.Errorf("delete paths: %w", err)
			}
			res.EntriesDeleted += deleted
			if err := q.DeleteCampaigns(ctx, merchantID); err != nil {
				return fmt.Errorf("delete campaigns: %w", err)
			}
			if err := q.DeleteMerchant(ctx, merchantID); err != nil {
				return fmt.Errorf("delete merchant: %w", err)
			}
			res.MerchantDeleted = true
			return nil
		}

		campaigns, err := q.ListCampaigns(ctx, merchantID)
		if err != nil {
			return fmt.Errorf("list campaigns: %w", err)
		}
		for _, c := range campaigns {
			if err := q.RefreshCampaignStats(ctx, c.ID); err != nil {
				return fmt.Errorf("refresh campaign %s: %w", c.ID, err)
			}
		}
		return q.RefreshMerchantStats(ctx, merchantID)
	})
	if err != nil {
		return nil, fmt.Errorf("delete merchant data: %w", err)
	}

	metrics.PathEntriesPruned.WithLabelValues("merchant_delete").Add(float64(res.EntriesDeleted))
	logger.Info("merchant data deleted",
		"merchant_id", merchantID,
		"worker", workerName,
		"events", res.EventsDeleted,
		"path_entries", res.EntriesDeleted,
		"merchant_deleted", res.MerchantDeleted,
	)
	return res, nil
}

// CleanupOldCustomerPaths drops the paths of recipients whose newest event
// for a merchant is older than cutoff.
func (s *Service) CleanupOldCustomerPaths(ctx context.Context, cutoff time.Time) (*CleanupResult, error) {
	return s.sweep(ctx, "old_customer", func(q repository.Queries, m domain.Merchant) ([]string, error) {
		return q.ListRecipientsLastEventBefore(ctx, m.ID, cutoff)
	})
}

// CleanupOldPendingData drops paths that were never classified and whose
// first entry is older than cutoff.
func (s *Service) CleanupOldPendingData(ctx context.Context, cutoff time.Time) (*CleanupResult, error) {
	return s.sweep(ctx, "pending", func(q repository.Queries, m domain.Merchant) ([]string, error) {
		return q.ListPendingRecipients(ctx, m.ID, cutoff)
	})
}

// CleanupIgnoredMerchantData drops every path entry of merchants whose
// domain is in domains. Matching is case-insensitive.
func (s *Service) CleanupIgnoredMerchantData(ctx context.Context, domains []string) (*CleanupResult, error) {
	ignored := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			ignored[d] = true
		}
	}
	res := &CleanupResult{}
	if len(ignored) == 0 {
		return res, nil
	}

	merchants, err := s.store.ListMerchants(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup ignored merchants: %w", err)
	}
	for _, m := range merchants {
		if !ignored[m.Domain] {
			continue
		}
		var recipients []string
		var deleted int64
		err := s.store.RunInTx(ctx, func(q repository.Queries) error {
			if err := q.LockMerchantPaths(ctx, m.ID); err != nil {
				return err
			}
			entries, err := q.ListPathEntries(ctx, m.ID)
			if err != nil {
				return err
			}
			recipients = distinctRecipients(entries)
			deleted, err = pruneRecipients(ctx, q, m.ID, recipients)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("cleanup ignored merchant %s: %w", m.Domain, err)
		}
		res.add(len(recipients), deleted)
	}
	s.finish("ignored_merchant", res)
	return res, nil
}

// sweep applies pruneRecipients to every merchant with the recipients
// selected by pick. Each merchant is pruned in its own transaction.
func (s *Service) sweep(ctx context.Context, reason string, pick func(q repository.Queries, m domain.Merchant) ([]string, error)) (*CleanupResult, error) {
	merchants, err := s.store.ListMerchants(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup %s: %w", reason, err)
	}
	res := &CleanupResult{}
	for _, m := range merchants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var recipients []string
		var deleted int64
		err := s.store.RunInTx(ctx, func(q repository.Queries) error {
			if err := q.LockMerchantPaths(ctx, m.ID); err != nil {
				return err
			}
			var err error
			recipients, err = pick(q, m)
			if err != nil {
				return err
			}
			deleted, err = pruneRecipients(ctx, q, m.ID, recipients)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("cleanup %s for merchant %s: %w", reason, m.ID, err)
		}
		res.add(len(recipients), deleted)
	}
	s.finish(reason, res)
	return res, nil
}

func (s *Service) finish(reason string, res *CleanupResult) {
	metrics.PathEntriesPruned.WithLabelValues(reason).Add(float64(res.EntriesDeleted))
	if res.EntriesDeleted > 0 {
		logger.Info("path cleanup completed",
			"reason", reason,
			"merchants", res.Merchants,
			"recipients", res.Recipients,
			"path_entries", res.EntriesDeleted,
		)
	}
}

// pruneRecipients deletes the path entries of recipients. Events stay.
func pruneRecipients(ctx context.Context, q repository.Queries, merchantID string, recipients []string) (int64, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	return q.DeletePathEntriesForRecipients(ctx, merchantID, recipients)
}

func distinctRecipients(entries []domain.PathEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if !seen[e.Recipient] {
			seen[e.Recipient] = true
			out = append(out, e.Recipient)
		}
	}
	return out
}
