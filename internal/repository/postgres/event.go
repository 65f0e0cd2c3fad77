package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository"
	"github.com/lib/pq"
)

// workerClause appends an optional worker_name filter starting at $idx.
func workerClause(f repository.EventFilter, idx int, args []any) (string, []any) {
	if len(f.WorkerNames) == 0 {
		return "", args
	}
	return fmt.Sprintf(" AND worker_name = ANY($%d)", idx), append(args, pq.Array(f.WorkerNames))
}

func (q *queries) InsertEmailEvent(ctx context.Context, e *domain.EmailEvent) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO journey_email_events (merchant_id, campaign_id, recipient, received_at, worker_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.MerchantID, e.CampaignID, e.Recipient, e.ReceivedAt, e.WorkerName).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert email event: %w", err)
	}
	return nil
}

func (q *queries) ListEmailEvents(ctx context.Context, merchantID string, f repository.EventFilter) ([]domain.EmailEvent, error) {
	where, args := workerClause(f, 2, []any{merchantID})
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, merchant_id, campaign_id, recipient, received_at, worker_name
		FROM journey_email_events
		WHERE merchant_id = $1`+where+`
		ORDER BY received_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list email events: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailEvent
	for rows.Next() {
		var e domain.EmailEvent
		if err := rows.Scan(&e.ID, &e.MerchantID, &e.CampaignID, &e.Recipient, &e.ReceivedAt, &e.WorkerName); err != nil {
			return nil, fmt.Errorf("scan email event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *queries) CountEmailEvents(ctx context.Context, merchantID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM journey_email_events WHERE merchant_id = $1`, merchantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count email events: %w", err)
	}
	return n, nil
}

func (q *queries) CampaignHasRecipient(ctx context.Context, campaignID, recipient string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM journey_email_events WHERE campaign_id = $1 AND recipient = $2
		)
	`, campaignID, recipient).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("campaign has recipient: %w", err)
	}
	return ok, nil
}

func (q *queries) DeleteEmailEvents(ctx context.Context, merchantID, workerName string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM journey_email_events WHERE merchant_id = $1 AND worker_name = $2`,
		merchantID, workerName)
	if err != nil {
		return 0, fmt.Errorf("delete email events: %w", err)
	}
	return rowsAffected(res), nil
}

func (q *queries) ListEventRecipients(ctx context.Context, merchantID string, f repository.EventFilter) ([]string, error) {
	where, args := workerClause(f, 2, []any{merchantID})
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT recipient FROM journey_email_events
		WHERE merchant_id = $1`+where+`
		ORDER BY recipient
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list event recipients: %w", err)
	}
	out, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan event recipients: %w", err)
	}
	return out, nil
}

func (q *queries) ListRecipientsLastEventBefore(ctx context.Context, merchantID string, cutoff time.Time) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT recipient FROM journey_email_events
		WHERE merchant_id = $1
		GROUP BY recipient
		HAVING MAX(received_at) < $2
		ORDER BY recipient
	`, merchantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale recipients: %w", err)
	}
	out, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan stale recipients: %w", err)
	}
	return out, nil
}
