// Package repository defines the data access contract shared by the journey
// services. Implementations live in repository/postgres and repository/memory.
//
// Every method returns domain.ErrNotFound for missing rows; any other error is
// a storage failure. Multi-statement operations must go through RunInTx so a
// failure part-way leaves no partial mutation behind.
package repository

import (
	"context"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
)

// Store is the top-level handle. Queries issued directly on the Store run
// outside any transaction.
type Store interface {
	Queries

	// RunInTx runs fn atomically. If fn returns an error every write it made
	// is discarded.
	RunInTx(ctx context.Context, fn func(q Queries) error) error
}

// EventFilter narrows an event read. An empty WorkerNames means all workers.
type EventFilter struct {
	WorkerNames []string
}

// Queries is the full set of reads and writes used by the services.
type Queries interface {
	// Merchants
	GetMerchant(ctx context.Context, id string) (*domain.Merchant, error)
	GetMerchantByDomain(ctx context.Context, domainName string) (*domain.Merchant, error)
	ListMerchants(ctx context.Context) ([]domain.Merchant, error)
	// CreateMerchant returns domain.ErrConflict if the domain already exists.
	CreateMerchant(ctx context.Context, m *domain.Merchant) error
	// RefreshMerchantStats recomputes TotalCampaigns/TotalEmails from rows.
	RefreshMerchantStats(ctx context.Context, merchantID string) error
	DeleteMerchant(ctx context.Context, merchantID string) error

	// Campaigns
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	GetCampaignBySubjectHash(ctx context.Context, merchantID, subjectHash string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, merchantID string) ([]domain.Campaign, error)
	// CreateCampaign returns domain.ErrConflict if the merchant already has a
	// campaign with the same subject hash.
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	IncrementCampaignCounters(ctx context.Context, campaignID string, emails, recipients int) error
	// RefreshCampaignStats recomputes TotalEmails/UniqueRecipients from events.
	RefreshCampaignStats(ctx context.Context, campaignID string) error
	SetCampaignRoot(ctx context.Context, campaignID string, isRoot bool) error
	SetCampaignRootCandidate(ctx context.Context, campaignID string, candidate bool, reason string) error
	SetCampaignTag(ctx context.Context, campaignID string, tag int) error
	SetCampaignValuable(ctx context.Context, campaignID string, valuable bool) error
	DeleteCampaigns(ctx context.Context, merchantID string) error

	// Email events
	InsertEmailEvent(ctx context.Context, e *domain.EmailEvent) error
	// ListEmailEvents returns events ordered by ReceivedAt then ID.
	ListEmailEvents(ctx context.Context, merchantID string, f EventFilter) ([]domain.EmailEvent, error)
	CountEmailEvents(ctx context.Context, merchantID string) (int, error)
	// CampaignHasRecipient reports whether recipient has any event for the
	// campaign.
	CampaignHasRecipient(ctx context.Context, campaignID, recipient string) (bool, error)
	DeleteEmailEvents(ctx context.Context, merchantID, workerName string) (int64, error)
	// ListEventRecipients returns distinct recipients with at least one
	// matching event.
	ListEventRecipients(ctx context.Context, merchantID string, f EventFilter) ([]string, error)
	// ListRecipientsLastEventBefore returns recipients whose newest event for
	// the merchant is older than cutoff.
	ListRecipientsLastEventBefore(ctx context.Context, merchantID string, cutoff time.Time) ([]string, error)

	// Path entries
	//
	// Writers hold a path lock until the transaction ends. LockRecipientPath
	// serializes writers of one recipient's path and shares the merchant
	// lock; LockMerchantPaths excludes every recipient writer of the merchant.
	LockRecipientPath(ctx context.Context, merchantID, recipient string) error
	LockMerchantPaths(ctx context.Context, merchantID string) error
	// GetPath returns one recipient's entries ordered by SequenceOrder.
	GetPath(ctx context.Context, merchantID, recipient string) ([]domain.PathEntry, error)
	// ListPathEntries returns entries ordered by recipient then SequenceOrder.
	ListPathEntries(ctx context.Context, merchantID string) ([]domain.PathEntry, error)
	InsertPathEntries(ctx context.Context, entries []domain.PathEntry) error
	DeletePathEntries(ctx context.Context, merchantID string) (int64, error)
	DeletePathEntriesForRecipients(ctx context.Context, merchantID string, recipients []string) (int64, error)
	// ListRecipientsWithoutEvents returns recipients that still have path
	// entries but no remaining events for the merchant.
	ListRecipientsWithoutEvents(ctx context.Context, merchantID string) ([]string, error)
	// ListPendingRecipients returns recipients whose entries are unclassified
	// and whose first entry is older than cutoff.
	ListPendingRecipients(ctx context.Context, merchantID string, cutoff time.Time) ([]string, error)
	ResetClassification(ctx context.Context, merchantID string) error
	SetRecipientClassification(ctx context.Context, merchantID, recipient string, isNew bool, firstRootCampaignID *string) error

	// Analysis projects
	CreateProject(ctx context.Context, p *domain.AnalysisProject) error
	GetProject(ctx context.Context, id string) (*domain.AnalysisProject, error)
	ListProjects(ctx context.Context, merchantID string) ([]domain.AnalysisProject, error)
	UpdateProject(ctx context.Context, p *domain.AnalysisProject) error
	DeleteProject(ctx context.Context, id string) error
	SetProjectAnalysis(ctx context.Context, projectID string, at time.Time, stats domain.AnalysisStats) error

	UpsertProjectRoot(ctx context.Context, r domain.ProjectRootCampaign) error
	DeleteProjectRoot(ctx context.Context, projectID, campaignID string) error
	ListProjectRoots(ctx context.Context, projectID string) ([]domain.ProjectRootCampaign, error)

	UpsertProjectTag(ctx context.Context, t domain.ProjectCampaignTag) error
	ListProjectTags(ctx context.Context, projectID string) ([]domain.ProjectCampaignTag, error)

	ReplaceProjectEdges(ctx context.Context, projectID string, edges []domain.ProjectPathEdge) error
	ListProjectEdges(ctx context.Context, projectID string) ([]domain.ProjectPathEdge, error)
}
