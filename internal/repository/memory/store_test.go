package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository"
)

func seedMerchant(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateMerchant(ctx, &domain.Merchant{ID: "m1", Domain: "shop.com"}); err != nil {
		t.Fatalf("CreateMerchant: %v", err)
	}
}

func TestRunInTx_DiscardsWritesOnError(t *testing.T) {
	s := New()
	seedMerchant(t, s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(q repository.Queries) error {
		if err := q.DeleteMerchant(ctx, "m1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx error = %v, want %v", err, boom)
	}
	if _, err := s.GetMerchant(ctx, "m1"); err != nil {
		t.Errorf("merchant should survive rolled back delete: %v", err)
	}

	err = s.RunInTx(ctx, func(q repository.Queries) error {
		return q.DeleteMerchant(ctx, "m1")
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if _, err := s.GetMerchant(ctx, "m1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("merchant after committed delete: %v", err)
	}
}

func TestInsertPathEntries_RejectsDuplicateCampaign(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	entries := []domain.PathEntry{
		{MerchantID: "m1", Recipient: "a@x.com", CampaignID: "c2", SequenceOrder: 2, FirstReceivedAt: at.Add(time.Hour)},
		{MerchantID: "m1", Recipient: "a@x.com", CampaignID: "c1", SequenceOrder: 1, FirstReceivedAt: at},
	}
	if err := s.InsertPathEntries(ctx, entries); err != nil {
		t.Fatalf("InsertPathEntries: %v", err)
	}

	path, _ := s.GetPath(ctx, "m1", "a@x.com")
	if len(path) != 2 || path[0].CampaignID != "c1" || path[1].CampaignID != "c2" {
		t.Errorf("path not ordered by sequence: %+v", path)
	}

	dup := []domain.PathEntry{{MerchantID: "m1", Recipient: "a@x.com", CampaignID: "c1", SequenceOrder: 3, FirstReceivedAt: at}}
	if err := s.InsertPathEntries(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate insert error = %v, want ErrConflict", err)
	}
}

func TestListEmailEvents_OrderAndWorkerFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	events := []domain.EmailEvent{
		{MerchantID: "m1", CampaignID: "c2", Recipient: "a@x.com", ReceivedAt: at.Add(time.Hour), WorkerName: "w1"},
		{MerchantID: "m1", CampaignID: "c1", Recipient: "a@x.com", ReceivedAt: at, WorkerName: "w2"},
		{MerchantID: "m1", CampaignID: "c3", Recipient: "b@x.com", ReceivedAt: at, WorkerName: "w1"},
		{MerchantID: "m2", CampaignID: "c9", Recipient: "a@x.com", ReceivedAt: at, WorkerName: "w1"},
	}
	for i := range events {
		if err := s.InsertEmailEvent(ctx, &events[i]); err != nil {
			t.Fatalf("InsertEmailEvent: %v", err)
		}
	}

	all, _ := s.ListEmailEvents(ctx, "m1", repository.EventFilter{})
	if len(all) != 3 {
		t.Fatalf("events = %d, want 3", len(all))
	}
	// Equal timestamps fall back to insertion order.
	if all[0].CampaignID != "c1" || all[1].CampaignID != "c3" || all[2].CampaignID != "c2" {
		t.Errorf("unexpected order: %s %s %s", all[0].CampaignID, all[1].CampaignID, all[2].CampaignID)
	}

	w1, _ := s.ListEmailEvents(ctx, "m1", repository.EventFilter{WorkerNames: []string{"w1"}})
	if len(w1) != 2 {
		t.Errorf("w1 events = %d, want 2", len(w1))
	}

	n, _ := s.DeleteEmailEvents(ctx, "m1", "w1")
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if c, _ := s.CountEmailEvents(ctx, "m2"); c != 1 {
		t.Errorf("other merchant events = %d, want 1", c)
	}
}

func TestListPendingRecipients(t *testing.T) {
	s := New()
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.AddDate(0, 2, 0)

	_ = s.InsertPathEntries(ctx, []domain.PathEntry{
		{MerchantID: "m1", Recipient: "old@x.com", CampaignID: "c1", SequenceOrder: 1, FirstReceivedAt: old},
		{MerchantID: "m1", Recipient: "new@x.com", CampaignID: "c1", SequenceOrder: 1, FirstReceivedAt: recent},
		{MerchantID: "m1", Recipient: "done@x.com", CampaignID: "c1", SequenceOrder: 1, FirstReceivedAt: old},
	})
	if err := s.SetRecipientClassification(ctx, "m1", "done@x.com", false, nil); err != nil {
		t.Fatalf("SetRecipientClassification: %v", err)
	}

	got, _ := s.ListPendingRecipients(ctx, "m1", old.AddDate(0, 1, 0))
	if len(got) != 1 || got[0] != "old@x.com" {
		t.Errorf("pending = %v, want [old@x.com]", got)
	}

	if err := s.ResetClassification(ctx, "m1"); err != nil {
		t.Fatalf("ResetClassification: %v", err)
	}
	got, _ = s.ListPendingRecipients(ctx, "m1", old.AddDate(0, 1, 0))
	if len(got) != 2 {
		t.Errorf("pending after reset = %v", got)
	}
}

func TestGetProject_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &domain.AnalysisProject{ID: "p1", MerchantID: "m1", Name: "Spring", WorkerNames: []string{"w1"}}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	got, err := s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	got.WorkerNames[0] = "mutated"

	again, _ := s.GetProject(ctx, "p1")
	if again.WorkerNames[0] != "w1" {
		t.Errorf("stored project was mutated through a returned copy")
	}
}

func TestRunInTx_RollbackRestoresEveryTable(t *testing.T) {
	s := New()
	seedMerchant(t, s)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := domain.EmailEvent{MerchantID: "m1", CampaignID: "c1", Recipient: "a@x.com", ReceivedAt: at, WorkerName: "w1"}
	if err := s.InsertEmailEvent(ctx, &first); err != nil {
		t.Fatalf("InsertEmailEvent: %v", err)
	}
	_ = s.InsertPathEntries(ctx, []domain.PathEntry{
		{MerchantID: "m1", Recipient: "a@x.com", CampaignID: "c1", SequenceOrder: 1, FirstReceivedAt: at},
	})
	_ = s.CreateProject(ctx, &domain.AnalysisProject{ID: "p1", MerchantID: "m1", Name: "Spring"})

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(q repository.Queries) error {
		ev := domain.EmailEvent{MerchantID: "m1", CampaignID: "c2", Recipient: "a@x.com", ReceivedAt: at.Add(time.Hour), WorkerName: "w1"}
		if err := q.InsertEmailEvent(ctx, &ev); err != nil {
			return err
		}
		if err := q.InsertPathEntries(ctx, []domain.PathEntry{
			{MerchantID: "m1", Recipient: "a@x.com", CampaignID: "c2", SequenceOrder: 2, FirstReceivedAt: at.Add(time.Hour)},
		}); err != nil {
			return err
		}
		if err := q.SetRecipientClassification(ctx, "m1", "a@x.com", true, nil); err != nil {
			return err
		}
		if _, err := q.DeleteEmailEvents(ctx, "m1", "w1"); err != nil {
			return err
		}
		if err := q.DeleteProject(ctx, "p1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx error = %v, want %v", err, boom)
	}

	if n, _ := s.CountEmailEvents(ctx, "m1"); n != 1 {
		t.Errorf("events after rollback = %d, want 1", n)
	}
	if seen, _ := s.CampaignHasRecipient(ctx, "c1", "a@x.com"); !seen {
		t.Error("c1 recipient index lost on rollback")
	}
	if seen, _ := s.CampaignHasRecipient(ctx, "c2", "a@x.com"); seen {
		t.Error("c2 recipient index survived rollback")
	}
	path, _ := s.GetPath(ctx, "m1", "a@x.com")
	if len(path) != 1 || path[0].IsNewUser != nil {
		t.Errorf("path after rollback = %+v", path)
	}
	if _, err := s.GetProject(ctx, "p1"); err != nil {
		t.Errorf("project after rollback: %v", err)
	}

	next := domain.EmailEvent{MerchantID: "m1", CampaignID: "c1", Recipient: "b@x.com", ReceivedAt: at, WorkerName: "w1"}
	_ = s.InsertEmailEvent(ctx, &next)
	if next.ID != 2 {
		t.Errorf("event id after rollback = %d, want 2", next.ID)
	}
}

func TestCreateMerchant_DuplicateDomainIsConflict(t *testing.T) {
	s := New()
	seedMerchant(t, s)

	err := s.CreateMerchant(context.Background(), &domain.Merchant{ID: "m2", Domain: "shop.com"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("CreateMerchant error = %v, want ErrConflict", err)
	}
}
