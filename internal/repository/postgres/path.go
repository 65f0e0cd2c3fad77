package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/lib/pq"
)

// pathInsertBatch keeps each INSERT well under Postgres' 65535 parameter cap.
const pathInsertBatch = 1000

const pathColumns = `merchant_id, recipient, campaign_id, sequence_order, first_received_at, is_new_user, first_root_campaign_id`

func scanPathEntries(rows *sql.Rows) ([]domain.PathEntry, error) {
	defer rows.Close()
	var out []domain.PathEntry
	for rows.Next() {
		var (
			e     domain.PathEntry
			isNew sql.NullBool
			root  sql.NullString
		)
		if err := rows.Scan(&e.MerchantID, &e.Recipient, &e.CampaignID, &e.SequenceOrder,
			&e.FirstReceivedAt, &isNew, &root); err != nil {
			return nil, err
		}
		if isNew.Valid {
			v := isNew.Bool
			e.IsNewUser = &v
		}
		if root.Valid {
			v := root.String
			e.FirstRootCampaignID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Path locks are transaction-scoped advisory locks. Recipient writers take
// the merchant key shared and their own key exclusive, so merchant-wide
// writers wait for all of them and vice versa.
func (q *queries) LockRecipientPath(ctx context.Context, merchantID, recipient string) error {
	_, err := q.db.ExecContext(ctx, `
		SELECT pg_advisory_xact_lock_shared(hashtextextended('journey:' || $1, 0)),
		       pg_advisory_xact_lock(hashtextextended('journey:' || $1 || '/' || $2, 0))
	`, merchantID, recipient)
	if err != nil {
		return fmt.Errorf("lock recipient path: %w", err)
	}
	return nil
}

func (q *queries) LockMerchantPaths(ctx context.Context, merchantID string) error {
	_, err := q.db.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('journey:' || $1, 0))`, merchantID)
	if err != nil {
		return fmt.Errorf("lock merchant paths: %w", err)
	}
	return nil
}

func (q *queries) GetPath(ctx context.Context, merchantID, recipient string) ([]domain.PathEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+pathColumns+` FROM journey_path_entries
		WHERE merchant_id = $1 AND recipient = $2
		ORDER BY sequence_order
	`, merchantID, recipient)
	if err != nil {
		return nil, fmt.Errorf("get path: %w", err)
	}
	out, err := scanPathEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("scan path: %w", err)
	}
	return out, nil
}

func (q *queries) ListPathEntries(ctx context.Context, merchantID string) ([]domain.PathEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+pathColumns+` FROM journey_path_entries
		WHERE merchant_id = $1
		ORDER BY recipient, sequence_order
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list path entries: %w", err)
	}
	out, err := scanPathEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("scan path entries: %w", err)
	}
	return out, nil
}

func (q *queries) InsertPathEntries(ctx context.Context, entries []domain.PathEntry) error {
	for start := 0; start < len(entries); start += pathInsertBatch {
		end := start + pathInsertBatch
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		values := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*7)
		for i, e := range batch {
			b := i * 7
			values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				b+1, b+2, b+3, b+4, b+5, b+6, b+7))
			args = append(args, e.MerchantID, e.Recipient, e.CampaignID, e.SequenceOrder,
				e.FirstReceivedAt, e.IsNewUser, e.FirstRootCampaignID)
		}
		_, err := q.db.ExecContext(ctx,
			`INSERT INTO journey_path_entries (`+pathColumns+`) VALUES `+strings.Join(values, ", "),
			args...)
		if err != nil {
			return fmt.Errorf("insert path entries: %w", err)
		}
	}
	return nil
}

func (q *queries) DeletePathEntries(ctx context.Context, merchantID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM journey_path_entries WHERE merchant_id = $1`, merchantID)
	if err != nil {
		return 0, fmt.Errorf("delete path entries: %w", err)
	}
	return rowsAffected(res), nil
}

func (q *queries) DeletePathEntriesForRecipients(ctx context.Context, merchantID string, recipients []string) (int64, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM journey_path_entries WHERE merchant_id = $1 AND recipient = ANY($2)`,
		merchantID, pq.Array(recipients))
	if err != nil {
		return 0, fmt.Errorf("delete recipient paths: %w", err)
	}
	return rowsAffected(res), nil
}

func (q *queries) ListRecipientsWithoutEvents(ctx context.Context, merchantID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT p.recipient FROM journey_path_entries p
		WHERE p.merchant_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM journey_email_events e
		      WHERE e.merchant_id = p.merchant_id AND e.recipient = p.recipient
		  )
		ORDER BY p.recipient
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list orphaned recipients: %w", err)
	}
	out, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan orphaned recipients: %w", err)
	}
	return out, nil
}

func (q *queries) ListPendingRecipients(ctx context.Context, merchantID string, cutoff time.Time) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT recipient FROM journey_path_entries
		WHERE merchant_id = $1 AND sequence_order = 1
		  AND is_new_user IS NULL AND first_received_at < $2
		ORDER BY recipient
	`, merchantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list pending recipients: %w", err)
	}
	out, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan pending recipients: %w", err)
	}
	return out, nil
}

func (q *queries) ResetClassification(ctx context.Context, merchantID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE journey_path_entries SET is_new_user = NULL, first_root_campaign_id = NULL
		WHERE merchant_id = $1
	`, merchantID)
	if err != nil {
		return fmt.Errorf("reset classification: %w", err)
	}
	return nil
}

func (q *queries) SetRecipientClassification(ctx context.Context, merchantID, recipient string, isNew bool, firstRootCampaignID *string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE journey_path_entries SET is_new_user = $3, first_root_campaign_id = $4
		WHERE merchant_id = $1 AND recipient = $2
	`, merchantID, recipient, isNew, firstRootCampaignID)
	if err != nil {
		return fmt.Errorf("set classification: %w", err)
	}
	return nil
}
