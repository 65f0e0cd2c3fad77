package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository"
)

type pathKey struct {
	merchantID string
	recipient  string
}

// state holds every table. It is not safe for concurrent use; Store guards it.
type state struct {
	merchants map[string]*domain.Merchant
	campaigns map[string]*domain.Campaign
	events    []domain.EmailEvent
	nextEvent int64
	paths     map[pathKey][]domain.PathEntry
	projects  map[string]*domain.AnalysisProject
	roots     map[string]map[string]domain.ProjectRootCampaign
	tags      map[string]map[string]domain.ProjectCampaignTag
	edges     map[string][]domain.ProjectPathEdge

	// Event indexes: events per merchant, and per campaign the number of
	// events each recipient has.
	merchantEvents     map[string]int
	campaignRecipients map[string]map[string]int

	// undo holds the inverse of every write since begin, newest last.
	journal bool
	undo    []func()
}

func newState() *state {
	return &state{
		merchants:          make(map[string]*domain.Merchant),
		campaigns:          make(map[string]*domain.Campaign),
		paths:              make(map[pathKey][]domain.PathEntry),
		projects:           make(map[string]*domain.AnalysisProject),
		roots:              make(map[string]map[string]domain.ProjectRootCampaign),
		tags:               make(map[string]map[string]domain.ProjectCampaignTag),
		edges:              make(map[string][]domain.ProjectPathEdge),
		merchantEvents:     make(map[string]int),
		campaignRecipients: make(map[string]map[string]int),
	}
}

func (s *state) begin() {
	s.journal = true
	s.undo = nil
}

func (s *state) commit() {
	s.journal = false
	s.undo = nil
}

func (s *state) rollback() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.commit()
}

func (s *state) onUndo(fn func()) {
	if s.journal {
		s.undo = append(s.undo, fn)
	}
}

// remember records how to put m[k] back to its current value.
func remember[K comparable, V any](s *state, m map[K]V, k K, clone func(V) V) {
	if !s.journal {
		return
	}
	old, ok := m[k]
	if !ok {
		s.onUndo(func() { delete(m, k) })
		return
	}
	old = clone(old)
	s.onUndo(func() { m[k] = old })
}

func cloneMerchant(m *domain.Merchant) *domain.Merchant {
	cp := *m
	return &cp
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	return &cp
}

func cloneSlice[T any](v []T) []T {
	return append([]T(nil), v...)
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	cp := make(map[K]V, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// rememberProject snapshots a project with its roots, tags and edges.
func (s *state) rememberProject(id string) {
	remember(s, s.projects, id, copyProject)
	remember(s, s.roots, id, cloneMap[string, domain.ProjectRootCampaign])
	remember(s, s.tags, id, cloneMap[string, domain.ProjectCampaignTag])
	remember(s, s.edges, id, cloneSlice[domain.ProjectPathEdge])
}

func (s *state) rememberPath(k pathKey) {
	remember(s, s.paths, k, cloneSlice[domain.PathEntry])
}

// indexEvent adds delta to the event indexes for e.
func (s *state) indexEvent(e domain.EmailEvent, delta int) {
	s.merchantEvents[e.MerchantID] += delta
	if s.merchantEvents[e.MerchantID] <= 0 {
		delete(s.merchantEvents, e.MerchantID)
	}
	rec := s.campaignRecipients[e.CampaignID]
	if rec == nil {
		rec = make(map[string]int)
		s.campaignRecipients[e.CampaignID] = rec
	}
	rec[e.Recipient] += delta
	if rec[e.Recipient] <= 0 {
		delete(rec, e.Recipient)
	}
	if len(rec) == 0 {
		delete(s.campaignRecipients, e.CampaignID)
	}
}

func copyProject(p *domain.AnalysisProject) *domain.AnalysisProject {
	cp := *p
	cp.WorkerNames = append([]string(nil), p.WorkerNames...)
	if p.LastStats != nil {
		st := *p.LastStats
		cp.LastStats = &st
	}
	if p.LastAnalysisTime != nil {
		t := *p.LastAnalysisTime
		cp.LastAnalysisTime = &t
	}
	return &cp
}

func workerSet(f repository.EventFilter) map[string]bool {
	if len(f.WorkerNames) == 0 {
		return nil
	}
	set := make(map[string]bool, len(f.WorkerNames))
	for _, w := range f.WorkerNames {
		set[w] = true
	}
	return set
}

// Merchants

func (s *state) GetMerchant(_ context.Context, id string) (*domain.Merchant, error) {
	m, ok := s.merchants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *state) GetMerchantByDomain(_ context.Context, domainName string) (*domain.Merchant, error) {
	for _, m := range s.merchants {
		if m.Domain == domainName {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *state) ListMerchants(_ context.Context) ([]domain.Merchant, error) {
	out := make([]domain.Merchant, 0, len(s.merchants))
	for _, m := range s.merchants {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (s *state) CreateMerchant(_ context.Context, m *domain.Merchant) error {
	for _, existing := range s.merchants {
		if existing.Domain == m.Domain {
			return domain.ErrConflict
		}
	}
	remember(s, s.merchants, m.ID, cloneMerchant)
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

func (s *state) RefreshMerchantStats(_ context.Context, merchantID string) error {
	m, ok := s.merchants[merchantID]
	if !ok {
		return domain.ErrNotFound
	}
	remember(s, s.merchants, merchantID, cloneMerchant)
	campaigns := 0
	for _, c := range s.campaigns {
		if c.MerchantID == merchantID {
			campaigns++
		}
	}
	m.TotalCampaigns = campaigns
	m.TotalEmails = s.merchantEvents[merchantID]
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *state) DeleteMerchant(_ context.Context, merchantID string) error {
	if _, ok := s.merchants[merchantID]; !ok {
		return domain.ErrNotFound
	}
	remember(s, s.merchants, merchantID, cloneMerchant)
	delete(s.merchants, merchantID)
	return nil
}

// Campaigns

func (s *state) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *state) GetCampaignBySubjectHash(_ context.Context, merchantID, subjectHash string) (*domain.Campaign, error) {
	for _, c := range s.campaigns {
		if c.MerchantID == merchantID && c.SubjectHash == subjectHash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *state) ListCampaigns(_ context.Context, merchantID string) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.MerchantID == merchantID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	for _, existing := range s.campaigns {
		if existing.MerchantID == c.MerchantID && existing.SubjectHash == c.SubjectHash {
			return domain.ErrConflict
		}
	}
	remember(s, s.campaigns, c.ID, cloneCampaign)
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *state) IncrementCampaignCounters(_ context.Context, campaignID string, emails, recipients int) error {
	c, ok := s.campaigns[campaignID]
	if !ok {
		return domain.ErrNotFound
	}
	remember(s, s.campaigns, campaignID, cloneCampaign)
	c.TotalEmails += emails
	c.UniqueRecipients += recipients
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *state) RefreshCampaignStats(_ context.Context, campaignID string) error {
	c, ok := s.campaigns[campaignID]
	if !ok {
		return domain.ErrNotFound
	}
	remember(s, s.campaigns, campaignID, cloneCampaign)
	total := 0
	for _, n := range s.campaignRecipients[campaignID] {
		total += n
	}
	c.TotalEmails = total
	c.UniqueRecipients = len(s.campaignRecipients[campaignID])
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *state) updateCampaign(id string, fn func(c *domain.Campaign)) error {
	c, ok := s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	remember(s, s.campaigns, id, cloneCampaign)
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *state) SetCampaignRoot(_ context.Context, campaignID string, isRoot bool) error {
	return s.updateCampaign(campaignID, func(c *domain.Campaign) { c.IsRoot = isRoot })
}

func (s *state) SetCampaignRootCandidate(_ context.Context, campaignID string, candidate bool, reason string) error {
	return s.updateCampaign(campaignID, func(c *domain.Campaign) {
		c.IsRootCandidate = candidate
		c.CandidateReason = reason
	})
}

func (s *state) SetCampaignTag(_ context.Context, campaignID string, tag int) error {
	return s.updateCampaign(campaignID, func(c *domain.Campaign) { c.Tag = tag })
}

func (s *state) SetCampaignValuable(_ context.Context, campaignID string, valuable bool) error {
	return s.updateCampaign(campaignID, func(c *domain.Campaign) { c.Valuable = valuable })
}

func (s *state) DeleteCampaigns(_ context.Context, merchantID string) error {
	for id, c := range s.campaigns {
		if c.MerchantID == merchantID {
			remember(s, s.campaigns, id, cloneCampaign)
			delete(s.campaigns, id)
		}
	}
	return nil
}

// Email events

func (s *state) InsertEmailEvent(_ context.Context, e *domain.EmailEvent) error {
	n, next := len(s.events), s.nextEvent
	s.nextEvent++
	e.ID = s.nextEvent
	s.events = append(s.events, *e)
	s.indexEvent(*e, 1)

	ev := *e
	s.onUndo(func() {
		s.indexEvent(ev, -1)
		s.events = s.events[:n]
		s.nextEvent = next
	})
	return nil
}

func (s *state) CampaignHasRecipient(_ context.Context, campaignID, recipient string) (bool, error) {
	return s.campaignRecipients[campaignID][recipient] > 0, nil
}

func (s *state) ListEmailEvents(_ context.Context, merchantID string, f repository.EventFilter) ([]domain.EmailEvent, error) {
	workers := workerSet(f)
	var out []domain.EmailEvent
	for _, e := range s.events {
		if e.MerchantID != merchantID {
			continue
		}
		if workers != nil && !workers[e.WorkerName] {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) CountEmailEvents(_ context.Context, merchantID string) (int, error) {
	return s.merchantEvents[merchantID], nil
}

func (s *state) DeleteEmailEvents(_ context.Context, merchantID, workerName string) (int64, error) {
	old, oldMerchants, oldCampaigns := s.events, s.merchantEvents, s.campaignRecipients
	kept := s.events[:0:0]
	var removed int64
	for _, e := range s.events {
		if e.MerchantID == merchantID && e.WorkerName == workerName {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}

	s.events = kept
	s.merchantEvents = make(map[string]int)
	s.campaignRecipients = make(map[string]map[string]int)
	for _, e := range kept {
		s.indexEvent(e, 1)
	}
	s.onUndo(func() {
		s.events, s.merchantEvents, s.campaignRecipients = old, oldMerchants, oldCampaigns
	})
	return removed, nil
}

func (s *state) ListEventRecipients(_ context.Context, merchantID string, f repository.EventFilter) ([]string, error) {
	workers := workerSet(f)
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.events {
		if e.MerchantID != merchantID || seen[e.Recipient] {
			continue
		}
		if workers != nil && !workers[e.WorkerName] {
			continue
		}
		seen[e.Recipient] = true
		out = append(out, e.Recipient)
	}
	sort.Strings(out)
	return out, nil
}

func (s *state) ListRecipientsLastEventBefore(_ context.Context, merchantID string, cutoff time.Time) ([]string, error) {
	latest := make(map[string]time.Time)
	for _, e := range s.events {
		if e.MerchantID != merchantID {
			continue
		}
		if t, ok := latest[e.Recipient]; !ok || e.ReceivedAt.After(t) {
			latest[e.Recipient] = e.ReceivedAt
		}
	}
	var out []string
	for r, t := range latest {
		if t.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Path entries

// The store mutex already serializes every transaction.
func (s *state) LockRecipientPath(_ context.Context, _, _ string) error { return nil }

func (s *state) LockMerchantPaths(_ context.Context, _ string) error { return nil }

func (s *state) GetPath(_ context.Context, merchantID, recipient string) ([]domain.PathEntry, error) {
	return append([]domain.PathEntry(nil), s.paths[pathKey{merchantID, recipient}]...), nil
}

func (s *state) ListPathEntries(_ context.Context, merchantID string) ([]domain.PathEntry, error) {
	var recipients []string
	for k := range s.paths {
		if k.merchantID == merchantID {
			recipients = append(recipients, k.recipient)
		}
	}
	sort.Strings(recipients)
	var out []domain.PathEntry
	for _, r := range recipients {
		out = append(out, s.paths[pathKey{merchantID, r}]...)
	}
	return out, nil
}

func (s *state) InsertPathEntries(_ context.Context, entries []domain.PathEntry) error {
	for _, e := range entries {
		k := pathKey{e.MerchantID, e.Recipient}
		s.rememberPath(k)
		for _, existing := range s.paths[k] {
			if existing.CampaignID == e.CampaignID {
				return domain.ErrConflict
			}
		}
		s.paths[k] = append(s.paths[k], e)
		sort.SliceStable(s.paths[k], func(i, j int) bool {
			return s.paths[k][i].SequenceOrder < s.paths[k][j].SequenceOrder
		})
	}
	return nil
}

func (s *state) DeletePathEntries(_ context.Context, merchantID string) (int64, error) {
	var n int64
	for k, v := range s.paths {
		if k.merchantID == merchantID {
			s.rememberPath(k)
			n += int64(len(v))
			delete(s.paths, k)
		}
	}
	return n, nil
}

func (s *state) DeletePathEntriesForRecipients(_ context.Context, merchantID string, recipients []string) (int64, error) {
	var n int64
	for _, r := range recipients {
		k := pathKey{merchantID, r}
		s.rememberPath(k)
		n += int64(len(s.paths[k]))
		delete(s.paths, k)
	}
	return n, nil
}

func (s *state) ListRecipientsWithoutEvents(_ context.Context, merchantID string) ([]string, error) {
	has := make(map[string]bool)
	for _, e := range s.events {
		if e.MerchantID == merchantID {
			has[e.Recipient] = true
		}
	}
	var out []string
	for k := range s.paths {
		if k.merchantID == merchantID && !has[k.recipient] {
			out = append(out, k.recipient)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *state) ListPendingRecipients(_ context.Context, merchantID string, cutoff time.Time) ([]string, error) {
	var out []string
	for k, entries := range s.paths {
		if k.merchantID != merchantID || len(entries) == 0 {
			continue
		}
		if entries[0].IsNewUser == nil && entries[0].FirstReceivedAt.Before(cutoff) {
			out = append(out, k.recipient)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *state) ResetClassification(_ context.Context, merchantID string) error {
	for k, entries := range s.paths {
		if k.merchantID != merchantID {
			continue
		}
		s.rememberPath(k)
		for i := range entries {
			entries[i].IsNewUser = nil
			entries[i].FirstRootCampaignID = nil
		}
	}
	return nil
}

func (s *state) SetRecipientClassification(_ context.Context, merchantID, recipient string, isNew bool, firstRootCampaignID *string) error {
	k := pathKey{merchantID, recipient}
	s.rememberPath(k)
	entries := s.paths[k]
	for i := range entries {
		v := isNew
		entries[i].IsNewUser = &v
		if firstRootCampaignID != nil {
			root := *firstRootCampaignID
			entries[i].FirstRootCampaignID = &root
		} else {
			entries[i].FirstRootCampaignID = nil
		}
	}
	return nil
}

// Analysis projects

func (s *state) CreateProject(_ context.Context, p *domain.AnalysisProject) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.rememberProject(p.ID)
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *state) GetProject(_ context.Context, id string) (*domain.AnalysisProject, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyProject(p), nil
}

func (s *state) ListProjects(_ context.Context, merchantID string) ([]domain.AnalysisProject, error) {
	var out []domain.AnalysisProject
	for _, p := range s.projects {
		if merchantID == "" || p.MerchantID == merchantID {
			out = append(out, *copyProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) UpdateProject(_ context.Context, p *domain.AnalysisProject) error {
	existing, ok := s.projects[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	s.rememberProject(p.ID)
	existing.Name = p.Name
	existing.Status = p.Status
	existing.WorkerNames = append([]string(nil), p.WorkerNames...)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *state) DeleteProject(_ context.Context, id string) error {
	if _, ok := s.projects[id]; !ok {
		return domain.ErrNotFound
	}
	s.rememberProject(id)
	delete(s.projects, id)
	delete(s.roots, id)
	delete(s.tags, id)
	delete(s.edges, id)
	return nil
}

func (s *state) SetProjectAnalysis(_ context.Context, projectID string, at time.Time, stats domain.AnalysisStats) error {
	p, ok := s.projects[projectID]
	if !ok {
		return domain.ErrNotFound
	}
	s.rememberProject(projectID)
	p.LastAnalysisTime = &at
	p.LastStats = &stats
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *state) UpsertProjectRoot(_ context.Context, r domain.ProjectRootCampaign) error {
	if _, ok := s.projects[r.ProjectID]; !ok {
		return domain.ErrNotFound
	}
	s.rememberProject(r.ProjectID)
	if s.roots[r.ProjectID] == nil {
		s.roots[r.ProjectID] = make(map[string]domain.ProjectRootCampaign)
	}
	if existing, ok := s.roots[r.ProjectID][r.CampaignID]; ok {
		r.CreatedAt = existing.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.roots[r.ProjectID][r.CampaignID] = r
	return nil
}

func (s *state) DeleteProjectRoot(_ context.Context, projectID, campaignID string) error {
	if _, ok := s.roots[projectID][campaignID]; !ok {
		return domain.ErrNotFound
	}
	s.rememberProject(projectID)
	delete(s.roots[projectID], campaignID)
	return nil
}

func (s *state) ListProjectRoots(_ context.Context, projectID string) ([]domain.ProjectRootCampaign, error) {
	var out []domain.ProjectRootCampaign
	for _, r := range s.roots[projectID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out, nil
}

func (s *state) UpsertProjectTag(_ context.Context, t domain.ProjectCampaignTag) error {
	if _, ok := s.projects[t.ProjectID]; !ok {
		return domain.ErrNotFound
	}
	s.rememberProject(t.ProjectID)
	if s.tags[t.ProjectID] == nil {
		s.tags[t.ProjectID] = make(map[string]domain.ProjectCampaignTag)
	}
	s.tags[t.ProjectID][t.CampaignID] = t
	return nil
}

func (s *state) ListProjectTags(_ context.Context, projectID string) ([]domain.ProjectCampaignTag, error) {
	var out []domain.ProjectCampaignTag
	for _, t := range s.tags[projectID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out, nil
}

func (s *state) ReplaceProjectEdges(_ context.Context, projectID string, edges []domain.ProjectPathEdge) error {
	if _, ok := s.projects[projectID]; !ok {
		return domain.ErrNotFound
	}
	s.rememberProject(projectID)
	s.edges[projectID] = append([]domain.ProjectPathEdge(nil), edges...)
	return nil
}

func (s *state) ListProjectEdges(_ context.Context, projectID string) ([]domain.ProjectPathEdge, error) {
	return append([]domain.ProjectPathEdge(nil), s.edges[projectID]...), nil
}
