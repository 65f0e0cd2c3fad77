package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func setupTestDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})
	return NewStore(db), mock
}

var merchantCols = []string{"id", "domain", "total_campaigns", "total_emails", "created_at", "updated_at"}

var pathCols = []string{"merchant_id", "recipient", "campaign_id", "sequence_order", "first_received_at", "is_new_user", "first_root_campaign_id"}

// =============================================================================
// MERCHANTS
// =============================================================================

func TestGetMerchant(t *testing.T) {
	store, mock := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM journey_merchants WHERE id = $1`)).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(merchantCols).AddRow("m1", "shop.com", 2, 10, now, now))

	m, err := store.GetMerchant(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMerchant: %v", err)
	}
	if m.Domain != "shop.com" || m.TotalCampaigns != 2 || m.TotalEmails != 10 {
		t.Errorf("merchant = %+v", m)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM journey_merchants WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(merchantCols))

	if _, err := store.GetMerchant(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing merchant error = %v, want ErrNotFound", err)
	}
}

func TestGetMerchant_DatabaseErrorIsWrapped(t *testing.T) {
	store, mock := setupTestDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM journey_merchants WHERE id = $1`)).
		WillReturnError(errors.New("connection reset"))

	_, err := store.GetMerchant(context.Background(), "m1")
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want wrapped internal error", err)
	}
}

func TestDeleteMerchant_NotFound(t *testing.T) {
	store, mock := setupTestDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM journey_merchants WHERE id = $1`)).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteMerchant(context.Background(), "m1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateMerchant_ExistingDomainIsConflict(t *testing.T) {
	store, mock := setupTestDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (domain) DO NOTHING`)).
		WithArgs("m2", "shop.com").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))

	err := store.CreateMerchant(context.Background(), &domain.Merchant{ID: "m2", Domain: "shop.com"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("CreateMerchant error = %v, want ErrConflict", err)
	}
}

func TestCreateCampaign_ExistingSubjectIsConflict(t *testing.T) {
	store, mock := setupTestDB(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (merchant_id, subject_hash) DO NOTHING`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))

	err := store.CreateCampaign(context.Background(), &domain.Campaign{
		ID: "c2", MerchantID: "m1", Subject: "Welcome", SubjectHash: "abc", FirstSeenAt: at,
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("CreateCampaign error = %v, want ErrConflict", err)
	}
}

func TestCampaignHasRecipient(t *testing.T) {
	store, mock := setupTestDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE campaign_id = $1 AND recipient = $2`)).
		WithArgs("c1", "bob@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.CampaignHasRecipient(context.Background(), "c1", "bob@x.com")
	if err != nil {
		t.Fatalf("CampaignHasRecipient: %v", err)
	}
	if !ok {
		t.Error("expected recipient to be seen")
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestRunInTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		store, mock := setupTestDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM journey_path_entries WHERE merchant_id = $1`)).
			WithArgs("m1").
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		var deleted int64
		err := store.RunInTx(context.Background(), func(q repository.Queries) error {
			n, err := q.DeletePathEntries(context.Background(), "m1")
			deleted = n
			return err
		})
		if err != nil {
			t.Fatalf("RunInTx: %v", err)
		}
		if deleted != 3 {
			t.Errorf("deleted = %d, want 3", deleted)
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		store, mock := setupTestDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := store.RunInTx(context.Background(), func(q repository.Queries) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want %v", err, boom)
		}
	})
}

// =============================================================================
// PATH ENTRIES
// =============================================================================

func TestInsertPathEntries_Batches(t *testing.T) {
	store, mock := setupTestDB(t)

	entries := make([]domain.PathEntry, pathInsertBatch+1)
	for i := range entries {
		entries[i] = domain.PathEntry{
			MerchantID:      "m1",
			Recipient:       fmt.Sprintf("user%d@x.com", i),
			CampaignID:      "c1",
			SequenceOrder:   1,
			FirstReceivedAt: time.Unix(int64(i), 0),
		}
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO journey_path_entries`)).
		WillReturnResult(sqlmock.NewResult(0, pathInsertBatch))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO journey_path_entries`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.InsertPathEntries(context.Background(), entries); err != nil {
		t.Fatalf("InsertPathEntries: %v", err)
	}
}

func TestPathLocks_TakenInsideTransaction(t *testing.T) {
	store, mock := setupTestDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`pg_advisory_xact_lock_shared(hashtextextended('journey:' || $1, 0))`)).
		WithArgs("m1", "bob@x.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE merchant_id = $1 AND recipient = $2`)).
		WithArgs("m1", "bob@x.com").
		WillReturnRows(sqlmock.NewRows(pathCols))
	mock.ExpectCommit()

	err := store.RunInTx(ctx, func(q repository.Queries) error {
		if err := q.LockRecipientPath(ctx, "m1", "bob@x.com"); err != nil {
			return err
		}
		_, err := q.GetPath(ctx, "m1", "bob@x.com")
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtextextended('journey:' || $1, 0))`)).
		WithArgs("m1").
		WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	err = store.RunInTx(ctx, func(q repository.Queries) error {
		return q.LockMerchantPaths(ctx, "m1")
	})
	if err == nil {
		t.Fatal("expected lock error to abort the transaction")
	}
}

func TestGetPath_ScansNullableClassification(t *testing.T) {
	store, mock := setupTestDB(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM journey_path_entries`)).
		WithArgs("m1", "a@x.com").
		WillReturnRows(sqlmock.NewRows(pathCols).
			AddRow("m1", "a@x.com", "c1", 1, at, true, "c1").
			AddRow("m1", "a@x.com", "c2", 2, at.Add(time.Hour), nil, nil))

	entries, err := store.GetPath(context.Background(), "m1", "a@x.com")
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].IsNewUser == nil || !*entries[0].IsNewUser || entries[0].FirstRootCampaignID == nil || *entries[0].FirstRootCampaignID != "c1" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].IsNewUser != nil || entries[1].FirstRootCampaignID != nil {
		t.Errorf("second entry should be unclassified: %+v", entries[1])
	}
}

func TestDeletePathEntriesForRecipients(t *testing.T) {
	store, mock := setupTestDB(t)
	ctx := context.Background()

	// No recipients means no statement at all.
	n, err := store.DeletePathEntriesForRecipients(ctx, "m1", nil)
	if err != nil || n != 0 {
		t.Fatalf("empty delete = %d, %v", n, err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`recipient = ANY($2)`)).
		WithArgs("m1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err = store.DeletePathEntriesForRecipients(ctx, "m1", []string{"a@x.com", "b@x.com"})
	if err != nil {
		t.Fatalf("DeletePathEntriesForRecipients: %v", err)
	}
	if n != 4 {
		t.Errorf("deleted = %d, want 4", n)
	}
}

func TestListPendingRecipients(t *testing.T) {
	store, mock := setupTestDB(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`is_new_user IS NULL AND first_received_at < $2`)).
		WithArgs("m1", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"recipient"}).AddRow("a@x.com").AddRow("b@x.com"))

	got, err := store.ListPendingRecipients(context.Background(), "m1", cutoff)
	if err != nil {
		t.Fatalf("ListPendingRecipients: %v", err)
	}
	if len(got) != 2 || got[0] != "a@x.com" {
		t.Errorf("recipients = %v", got)
	}
}

// =============================================================================
// PROJECTS
// =============================================================================

func TestGetProject_DecodesArraysAndStats(t *testing.T) {
	store, mock := setupTestDB(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "merchant_id", "name", "worker_names", "status", "last_analysis_time", "last_stats", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM journey_projects WHERE id = $1`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"p1", "m1", "Spring", []byte("{worker-a,worker-b}"), "active",
			now, []byte(`{"total_recipients":5,"new_users":2,"old_users":3}`), now, now,
		))

	p, err := store.GetProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if len(p.WorkerNames) != 2 || p.WorkerNames[1] != "worker-b" {
		t.Errorf("workers = %v", p.WorkerNames)
	}
	if p.LastAnalysisTime == nil || !p.LastAnalysisTime.Equal(now) {
		t.Errorf("last analysis = %v", p.LastAnalysisTime)
	}
	if p.LastStats == nil || p.LastStats.TotalRecipients != 5 || p.LastStats.NewUsers != 2 {
		t.Errorf("stats = %+v", p.LastStats)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM journey_projects WHERE id = $1`)).
		WithArgs("p2").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.GetProject(context.Background(), "p2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing project error = %v", err)
	}
}
