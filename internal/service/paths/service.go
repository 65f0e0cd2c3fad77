// Package paths builds and maintains per-recipient campaign journeys.
//
// A path is the ordered, deduplicated list of campaigns a recipient received
// from one merchant. TrackEvent extends paths incrementally as emails arrive;
// RebuildPaths regenerates them from the event log. Both share Insert, so a
// rebuild over the same events reproduces the incremental ordering exactly.
package paths

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/metrics"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository"
)

// Service implements the path builder. Safe for concurrent use if the store is.
type Service struct {
	store repository.Store
}

// NewService creates a path builder backed by store.
func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// TrackInput is one delivered email.
type TrackInput struct {
	Sender     string    `json:"sender" validate:"required"`
	Subject    string    `json:"subject" validate:"required"`
	Recipient  string    `json:"recipient" validate:"required,email"`
	ReceivedAt time.Time `json:"received_at" validate:"required"`
	WorkerName string    `json:"worker_name"`
}

// TrackResult reports what TrackEvent created.
type TrackResult struct {
	MerchantID      string `json:"merchant_id"`
	CampaignID      string `json:"campaign_id"`
	EventID         int64  `json:"event_id"`
	MerchantCreated bool   `json:"merchant_created"`
	CampaignCreated bool   `json:"campaign_created"`
	NewPathEntry    bool   `json:"new_path_entry"`
	SequenceOrder   int    `json:"sequence_order,omitempty"`
}

// PathRebuildOptions scopes a rebuild. Nil WorkerNames means every worker.
type PathRebuildOptions struct {
	WorkerNames []string
}

func (o PathRebuildOptions) filter() repository.EventFilter {
	return repository.EventFilter{WorkerNames: o.WorkerNames}
}

// RebuildResult summarises a rebuild.
type RebuildResult struct {
	MerchantID     string `json:"merchant_id"`
	EventsRead     int    `json:"events_read"`
	Recipients     int    `json:"recipients"`
	EntriesDeleted int64  `json:"entries_deleted"`
	EntriesWritten int    `json:"entries_written"`
}

// TrackEvent records an email event, creating its merchant and campaign on
// first sight, and appends a path entry the first time the recipient receives
// the campaign. Repeated events for the same (recipient, campaign) only bump
// the campaign's email counter. Concurrent calls for one recipient are
// serialized by the recipient's path lock.
func (s *Service) TrackEvent(ctx context.Context, in TrackInput) (*TrackResult, error) {
	domainName, err := ResolveMerchantDomain(in.Sender)
	if err != nil {
		return nil, err
	}
	recipient := NormalizeRecipient(in.Recipient)
	worker := strings.TrimSpace(in.WorkerName)
	if worker == "" {
		worker = domain.DefaultWorkerName
	}
	receivedAt := in.ReceivedAt.UTC()

	res := &TrackResult{}
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		merchant, created, err := resolveMerchant(ctx, q, domainName)
		if err != nil {
			return err
		}
		res.MerchantID, res.MerchantCreated = merchant.ID, created

		if err := q.LockRecipientPath(ctx, merchant.ID, recipient); err != nil {
			return err
		}

		campaign, created, err := resolveCampaign(ctx, q, merchant.ID, in.Subject, receivedAt)
		if err != nil {
			return err
		}
		res.CampaignID, res.CampaignCreated = campaign.ID, created

		seen, err := q.CampaignHasRecipient(ctx, campaign.ID, recipient)
		if err != nil {
			return err
		}
		newRecipients := 1
		if seen {
			newRecipients = 0
		}

		ev := &domain.EmailEvent{
			MerchantID: merchant.ID,
			CampaignID: campaign.ID,
			Recipient:  recipient,
			ReceivedAt: receivedAt,
			WorkerName: worker,
		}
		if err := q.InsertEmailEvent(ctx, ev); err != nil {
			return err
		}
		res.EventID = ev.ID

		seq, err := appendToPath(ctx, q, merchant.ID, recipient, campaign.ID, receivedAt)
		if err != nil {
			return err
		}
		if seq > 0 {
			res.NewPathEntry, res.SequenceOrder = true, seq
		}
		if err := q.IncrementCampaignCounters(ctx, campaign.ID, 1, newRecipients); err != nil {
			return err
		}
		return q.RefreshMerchantStats(ctx, merchant.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("track event: %w", err)
	}

	if res.NewPathEntry {
		metrics.EventsTracked.WithLabelValues("new_path").Inc()
	} else {
		metrics.EventsTracked.WithLabelValues("duplicate").Inc()
	}
	logger.Debug("event tracked",
		"merchant_id", res.MerchantID, "campaign_id", res.CampaignID,
		"recipient", recipient, "worker", worker, "new_path_entry", res.NewPathEntry)
	return res, nil
}

func resolveMerchant(ctx context.Context, q repository.Queries, domainName string) (*domain.Merchant, bool, error) {
	m, err := q.GetMerchantByDomain(ctx, domainName)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	m = &domain.Merchant{ID: uuid.New().String(), Domain: domainName}
	if err := q.CreateMerchant(ctx, m); errors.Is(err, domain.ErrConflict) {
		// Created by a concurrent event since the lookup.
		m, err = q.GetMerchantByDomain(ctx, domainName)
		return m, false, err
	} else if err != nil {
		return nil, false, err
	}
	logger.Info("merchant created", "merchant_id", m.ID, "domain", domainName)
	return m, true, nil
}

func resolveCampaign(ctx context.Context, q repository.Queries, merchantID, subject string, at time.Time) (*domain.Campaign, bool, error) {
	hash := SubjectHash(subject)
	c, err := q.GetCampaignBySubjectHash(ctx, merchantID, hash)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	c = &domain.Campaign{
		ID:          uuid.New().String(),
		MerchantID:  merchantID,
		Subject:     strings.Join(strings.Fields(subject), " "),
		SubjectHash: hash,
		FirstSeenAt: at,
	}
	if err := q.CreateCampaign(ctx, c); errors.Is(err, domain.ErrConflict) {
		c, err = q.GetCampaignBySubjectHash(ctx, merchantID, hash)
		return c, false, err
	} else if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// appendToPath inserts the campaign into the recipient's stored path and
// returns its 1-based sequence order, or 0 if it was already there.
func appendToPath(ctx context.Context, q repository.Queries, merchantID, recipient, campaignID string, at time.Time) (int, error) {
	entries, err := q.GetPath(ctx, merchantID, recipient)
	if err != nil {
		return 0, err
	}
	current := domain.Path{Recipient: recipient}
	if existing := domain.PathsFromEntries(entries); len(existing) == 1 {
		current = existing[0]
	}

	updated, pos, inserted := Insert(current, campaignID, at)
	if !inserted {
		return 0, nil
	}

	if pos == len(updated.CampaignIDs)-1 {
		return pos + 1, q.InsertPathEntries(ctx, updated.Entries(merchantID)[pos:])
	}
	// An out-of-order event landed ahead of existing entries: renumber. The
	// recipient's first campaign or first root may have changed, so the path
	// goes back to pending classification.
	updated.IsNewUser = nil
	updated.FirstRootCampaignID = ""
	if _, err := q.DeletePathEntriesForRecipients(ctx, merchantID, []string{recipient}); err != nil {
		return 0, err
	}
	return pos + 1, q.InsertPathEntries(ctx, updated.Entries(merchantID))
}

// RebuildPaths deletes the merchant's path entries and regenerates them from
// its events, optionally restricted to some workers. The whole rebuild is one
// transaction and is safe to re-run.
func (s *Service) RebuildPaths(ctx context.Context, merchantID string, opts PathRebuildOptions) (*RebuildResult, error) {
	start := time.Now()
	res := &RebuildResult{MerchantID: merchantID}

	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetMerchant(ctx, merchantID); err != nil {
			return err
		}
		if err := q.LockMerchantPaths(ctx, merchantID); err != nil {
			return err
		}
		deleted, err := q.DeletePathEntries(ctx, merchantID)
		if err != nil {
			return err
		}
		events, err := q.ListEmailEvents(ctx, merchantID, opts.filter())
		if err != nil {
			return err
		}
		built := BuildPaths(events)
		rows := Entries(merchantID, built)
		if err := q.InsertPathEntries(ctx, rows); err != nil {
			return err
		}
		res.EntriesDeleted = deleted
		res.EventsRead = len(events)
		res.Recipients = len(built)
		res.EntriesWritten = len(rows)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild paths: %w", err)
	}

	metrics.PathRebuilds.Inc()
	logger.Info("paths rebuilt",
		"merchant_id", merchantID, "workers", strings.Join(opts.WorkerNames, ","),
		"events", res.EventsRead, "recipients", res.Recipients,
		"entries", res.EntriesWritten, "duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// ScopedPaths derives paths for the merchant's events in memory without
// touching stored path entries. It also returns the number of events read.
func (s *Service) ScopedPaths(ctx context.Context, merchantID string, opts PathRebuildOptions) ([]domain.Path, int, error) {
	if _, err := s.store.GetMerchant(ctx, merchantID); err != nil {
		return nil, 0, err
	}
	events, err := s.store.ListEmailEvents(ctx, merchantID, opts.filter())
	if err != nil {
		return nil, 0, err
	}
	return BuildPaths(events), len(events), nil
}

// GetRecipientPath returns one recipient's stored path entries.
func (s *Service) GetRecipientPath(ctx context.Context, merchantID, recipient string) ([]domain.PathEntry, error) {
	if _, err := s.store.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	return s.store.GetPath(ctx, merchantID, NormalizeRecipient(recipient))
}

// LoadPaths returns the merchant's stored paths, grouped per recipient.
func (s *Service) LoadPaths(ctx context.Context, merchantID string) ([]domain.Path, error) {
	if _, err := s.store.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListPathEntries(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return domain.PathsFromEntries(entries), nil
}
