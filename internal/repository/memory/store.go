// Package memory is an in-memory implementation of repository.Store.
//
// It backs the service tests and the server's --memory dev mode. A single
// mutex serializes every call. RunInTx journals the inverse of each write and
// replays the journal if fn fails, so a transaction costs only what it touches.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository"
)

// Store implements repository.Store in memory. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

var _ repository.Store = (*Store)(nil)

// RunInTx runs fn with the store locked and undoes its writes if it fails
// or panics.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Queries) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.begin()
	defer func() {
		if r := recover(); r != nil {
			s.st.rollback()
			panic(r)
		}
		if err != nil {
			s.st.rollback()
			return
		}
		s.st.commit()
	}()
	return fn(s.st)
}

func (s *Store) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetMerchant(ctx, id)
}

func (s *Store) GetMerchantByDomain(ctx context.Context, domainName string) (*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetMerchantByDomain(ctx, domainName)
}

func (s *Store) ListMerchants(ctx context.Context) ([]domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListMerchants(ctx)
}

func (s *Store) CreateMerchant(ctx context.Context, m *domain.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateMerchant(ctx, m)
}

func (s *Store) RefreshMerchantStats(ctx context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RefreshMerchantStats(ctx, merchantID)
}

func (s *Store) DeleteMerchant(ctx context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteMerchant(ctx, merchantID)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCampaign(ctx, id)
}

func (s *Store) GetCampaignBySubjectHash(ctx context.Context, merchantID, subjectHash string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCampaignBySubjectHash(ctx, merchantID, subjectHash)
}

func (s *Store) ListCampaigns(ctx context.Context, merchantID string) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListCampaigns(ctx, merchantID)
}

func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateCampaign(ctx, c)
}

func (s *Store) IncrementCampaignCounters(ctx context.Context, campaignID string, emails, recipients int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IncrementCampaignCounters(ctx, campaignID, emails, recipients)
}

func (s *Store) RefreshCampaignStats(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RefreshCampaignStats(ctx, campaignID)
}

func (s *Store) SetCampaignRoot(ctx context.Context, campaignID string, isRoot bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetCampaignRoot(ctx, campaignID, isRoot)
}

func (s *Store) SetCampaignRootCandidate(ctx context.Context, campaignID string, candidate bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetCampaignRootCandidate(ctx, campaignID, candidate, reason)
}

func (s *Store) SetCampaignTag(ctx context.Context, campaignID string, tag int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetCampaignTag(ctx, campaignID, tag)
}

func (s *Store) SetCampaignValuable(ctx context.Context, campaignID string, valuable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetCampaignValuable(ctx, campaignID, valuable)
}

func (s *Store) DeleteCampaigns(ctx context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteCampaigns(ctx, merchantID)
}

func (s *Store) InsertEmailEvent(ctx context.Context, e *domain.EmailEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertEmailEvent(ctx, e)
}

func (s *Store) ListEmailEvents(ctx context.Context, merchantID string, f repository.EventFilter) ([]domain.EmailEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListEmailEvents(ctx, merchantID, f)
}

func (s *Store) CountEmailEvents(ctx context.Context, merchantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountEmailEvents(ctx, merchantID)
}

func (s *Store) CampaignHasRecipient(ctx context.Context, campaignID, recipient string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CampaignHasRecipient(ctx, campaignID, recipient)
}

func (s *Store) DeleteEmailEvents(ctx context.Context, merchantID, workerName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteEmailEvents(ctx, merchantID, workerName)
}

func (s *Store) ListEventRecipients(ctx context.Context, merchantID string, f repository.EventFilter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListEventRecipients(ctx, merchantID, f)
}

func (s *Store) ListRecipientsLastEventBefore(ctx context.Context, merchantID string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListRecipientsLastEventBefore(ctx, merchantID, cutoff)
}

func (s *Store) LockRecipientPath(ctx context.Context, merchantID, recipient string) error {
	return nil
}

func (s *Store) LockMerchantPaths(ctx context.Context, merchantID string) error {
	return nil
}

func (s *Store) GetPath(ctx context.Context, merchantID, recipient string) ([]domain.PathEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetPath(ctx, merchantID, recipient)
}

func (s *Store) ListPathEntries(ctx context.Context, merchantID string) ([]domain.PathEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListPathEntries(ctx, merchantID)
}

func (s *Store) InsertPathEntries(ctx context.Context, entries []domain.PathEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertPathEntries(ctx, entries)
}

func (s *Store) DeletePathEntries(ctx context.Context, merchantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeletePathEntries(ctx, merchantID)
}

func (s *Store) DeletePathEntriesForRecipients(ctx context.Context, merchantID string, recipients []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeletePathEntriesForRecipients(ctx, merchantID, recipients)
}

func (s *Store) ListRecipientsWithoutEvents(ctx context.Context, merchantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListRecipientsWithoutEvents(ctx, merchantID)
}

func (s *Store) ListPendingRecipients(ctx context.Context, merchantID string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListPendingRecipients(ctx, merchantID, cutoff)
}

func (s *Store) ResetClassification(ctx context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ResetClassification(ctx, merchantID)
}

func (s *Store) SetRecipientClassification(ctx context.Context, merchantID, recipient string, isNew bool, firstRootCampaignID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetRecipientClassification(ctx, merchantID, recipient, isNew, firstRootCampaignID)
}

func (s *Store) CreateProject(ctx context.Context, p *domain.AnalysisProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateProject(ctx, p)
}

func (s *Store) GetProject(ctx context.Context, id string) (*domain.AnalysisProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetProject(ctx, id)
}

func (s *Store) ListProjects(ctx context.Context, merchantID string) ([]domain.AnalysisProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListProjects(ctx, merchantID)
}

func (s *Store) UpdateProject(ctx context.Context, p *domain.AnalysisProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateProject(ctx, p)
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteProject(ctx, id)
}

func (s *Store) SetProjectAnalysis(ctx context.Context, projectID string, at time.Time, stats domain.AnalysisStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetProjectAnalysis(ctx, projectID, at, stats)
}

func (s *Store) UpsertProjectRoot(ctx context.Context, r domain.ProjectRootCampaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertProjectRoot(ctx, r)
}

func (s *Store) DeleteProjectRoot(ctx context.Context, projectID, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteProjectRoot(ctx, projectID, campaignID)
}

func (s *Store) ListProjectRoots(ctx context.Context, projectID string) ([]domain.ProjectRootCampaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListProjectRoots(ctx, projectID)
}

func (s *Store) UpsertProjectTag(ctx context.Context, t domain.ProjectCampaignTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertProjectTag(ctx, t)
}

func (s *Store) ListProjectTags(ctx context.Context, projectID string) ([]domain.ProjectCampaignTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListProjectTags(ctx, projectID)
}

func (s *Store) ReplaceProjectEdges(ctx context.Context, projectID string, edges []domain.ProjectPathEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ReplaceProjectEdges(ctx, projectID, edges)
}

func (s *Store) ListProjectEdges(ctx context.Context, projectID string) ([]domain.ProjectPathEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListProjectEdges(ctx, projectID)
}
