package classify_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository/memory"
	"github.com/ignite/campaign-journeys/internal/service/classify"
	"github.com/ignite/campaign-journeys/internal/service/paths"
)

var at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	tracker *paths.Service
	svc     *classify.Service
}

func newFixture() *fixture {
	store := memory.New()
	return &fixture{
		store:   store,
		tracker: paths.NewService(store),
		svc: classify.NewService(store, classify.DetectionConfig{
			FirstPositionRatio: 0.8,
			MinRecipients:      3,
		}),
	}
}

func (f *fixture) send(t *testing.T, subject, recipient string, minute int, worker string) *paths.TrackResult {
	t.Helper()
	res, err := f.tracker.TrackEvent(context.Background(), paths.TrackInput{
		Sender:     "promo@shop.com",
		Subject:    subject,
		Recipient:  recipient,
		ReceivedAt: at.Add(time.Duration(minute) * time.Minute),
		WorkerName: worker,
	})
	if err != nil {
		t.Fatalf("TrackEvent: %v", err)
	}
	return res
}

func TestFullSweep_FirstEntryOnly(t *testing.T) {
	roots := map[string]bool{"welcome": true}
	got := classify.FullSweep{}.Classify([]domain.Path{
		{Recipient: "a", CampaignIDs: []string{"welcome", "sale"}},
		{Recipient: "b", CampaignIDs: []string{"sale", "welcome"}},
	}, roots)

	if !got[0].IsNewUser || got[0].FirstRootCampaignID != "welcome" {
		t.Errorf("a = %+v, want new user rooted at welcome", got[0])
	}
	if got[1].IsNewUser || got[1].FirstRootCampaignID != "" {
		t.Errorf("b = %+v, want old user", got[1])
	}
}

func TestRecalculateAllNewUsers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	welcome := f.send(t, "Welcome", "a@x.com", 0, "")
	f.send(t, "Sale", "a@x.com", 1, "")
	f.send(t, "Sale", "b@x.com", 0, "")
	f.send(t, "Welcome", "b@x.com", 1, "")
	f.send(t, "Welcome", "c@x.com", 0, "")
	mid := welcome.MerchantID

	if _, err := f.svc.SetRootCampaign(ctx, welcome.CampaignID, true); err != nil {
		t.Fatalf("SetRootCampaign: %v", err)
	}
	res, err := f.svc.RecalculateAllNewUsers(ctx, mid)
	if err != nil {
		t.Fatalf("RecalculateAllNewUsers: %v", err)
	}
	if res.Roots != 1 || res.Stats.NewUsers != 2 || res.Stats.OldUsers != 1 {
		t.Errorf("result = %+v", res)
	}

	entries, _ := f.store.GetPath(ctx, mid, "a@x.com")
	for _, e := range entries {
		if e.IsNewUser == nil || !*e.IsNewUser || e.FirstRootCampaignID == nil || *e.FirstRootCampaignID != welcome.CampaignID {
			t.Errorf("a entry not marked new: %+v", e)
		}
	}
	entries, _ = f.store.GetPath(ctx, mid, "b@x.com")
	for _, e := range entries {
		if e.IsNewUser == nil || *e.IsNewUser {
			t.Errorf("b entry should be old: %+v", e)
		}
	}

	// Un-rooting reclassifies everyone on the next sweep.
	if _, err := f.svc.SetRootCampaign(ctx, welcome.CampaignID, false); err != nil {
		t.Fatalf("SetRootCampaign: %v", err)
	}
	res, _ = f.svc.RecalculateAllNewUsers(ctx, mid)
	if res.Stats.NewUsers != 0 || res.Stats.OldUsers != 3 {
		t.Errorf("after unroot = %+v", res.Stats)
	}
}

func TestGetUserTypeStats_Conservation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	welcome := f.send(t, "Welcome", "a@x.com", 0, "worker-a")
	f.send(t, "Sale", "b@x.com", 0, "worker-b")
	f.send(t, "Welcome", "c@x.com", 0, "worker-b")
	f.send(t, "Sale", "d@x.com", 0, "worker-a")
	mid := welcome.MerchantID

	// Before any sweep everyone is unclassified and counts as old.
	st, err := f.svc.GetUserTypeStats(ctx, mid, nil)
	if err != nil {
		t.Fatalf("GetUserTypeStats: %v", err)
	}
	if st.TotalRecipients != 4 || st.OldUsers != 4 {
		t.Errorf("unclassified stats = %+v", st)
	}

	_, _ = f.svc.SetRootCampaign(ctx, welcome.CampaignID, true)
	_, _ = f.svc.RecalculateAllNewUsers(ctx, mid)

	for _, workers := range [][]string{nil, {"worker-a"}, {"worker-b"}, {"worker-a", "worker-b"}, {"nobody"}} {
		st, err := f.svc.GetUserTypeStats(ctx, mid, workers)
		if err != nil {
			t.Fatalf("GetUserTypeStats(%v): %v", workers, err)
		}
		if st.NewUsers+st.OldUsers != st.TotalRecipients {
			t.Errorf("workers %v: %d + %d != %d", workers, st.NewUsers, st.OldUsers, st.TotalRecipients)
		}
	}

	st, _ = f.svc.GetUserTypeStats(ctx, mid, []string{"worker-a"})
	if st.TotalRecipients != 2 || st.NewUsers != 1 || st.NewUserRate != 50 {
		t.Errorf("worker-a stats = %+v", st)
	}
}

func TestDetectRootCandidates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	welcome := f.send(t, "Welcome to the shop", "a@x.com", 0, "")
	intro := f.send(t, "Meet our makers", "a@x.com", 1, "")
	for i, r := range []string{"b@x.com", "c@x.com", "d@x.com"} {
		f.send(t, "Meet our makers", r, i, "")
		f.send(t, "Weekly deals", r, 10+i, "")
	}
	mid := welcome.MerchantID

	res, err := f.svc.DetectRootCandidates(ctx, mid)
	if err != nil {
		t.Fatalf("DetectRootCandidates: %v", err)
	}
	reasons := make(map[string]string)
	for _, c := range res.Candidates {
		reasons[c.CampaignID] = c.Reason
	}
	if !strings.Contains(reasons[welcome.CampaignID], `"welcome"`) {
		t.Errorf("welcome reason = %q", reasons[welcome.CampaignID])
	}
	// Opens 3 of the 4 paths it appears in: below the 0.8 ratio.
	if _, ok := reasons[intro.CampaignID]; ok {
		t.Errorf("intro flagged: %q", reasons[intro.CampaignID])
	}
	if len(res.Candidates) != 1 {
		t.Errorf("candidates = %+v", res.Candidates)
	}

	c, _ := f.store.GetCampaign(ctx, welcome.CampaignID)
	if !c.IsRootCandidate || c.IsRoot {
		t.Errorf("welcome campaign = %+v, want candidate but not root", c)
	}

	// Confirming removes it from the candidate list.
	_, _ = f.svc.SetRootCampaign(ctx, welcome.CampaignID, true)
	cands, _ := f.svc.ListRootCandidates(ctx, mid)
	roots, _ := f.svc.ListRootCampaigns(ctx, mid)
	if len(cands) != 0 || len(roots) != 1 {
		t.Errorf("candidates=%d roots=%d", len(cands), len(roots))
	}
}

func TestDetectRootCandidates_FirstPositionRule(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var intro *paths.TrackResult
	for i, r := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		intro = f.send(t, "Meet our makers", r, i, "")
		f.send(t, "Weekly deals", r, 10+i, "")
	}
	res, err := f.svc.DetectRootCandidates(ctx, intro.MerchantID)
	if err != nil {
		t.Fatalf("DetectRootCandidates: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].CampaignID != intro.CampaignID {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if !strings.Contains(res.Candidates[0].Reason, "100% of 3 recipients") {
		t.Errorf("reason = %q", res.Candidates[0].Reason)
	}
}

func TestSetCampaignTag(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.send(t, "Welcome", "a@x.com", 0, "")

	if err := f.svc.SetCampaignTag(ctx, res.CampaignID, 3); err != nil {
		t.Fatalf("SetCampaignTag: %v", err)
	}
	c, _ := f.store.GetCampaign(ctx, res.CampaignID)
	if c.Tag != 3 {
		t.Errorf("tag = %d", c.Tag)
	}
	if err := f.svc.SetCampaignTag(ctx, res.CampaignID, 5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("tag 5 error = %v, want ErrInvalidInput", err)
	}
	if err := f.svc.SetCampaignTag(ctx, "missing", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing campaign error = %v", err)
	}
}

func TestSetRootCampaign_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.SetRootCampaign(context.Background(), "missing", true)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
