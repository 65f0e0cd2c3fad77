package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/campaign-journeys/internal/domain"
)

const campaignColumns = `id, merchant_id, subject, subject_hash, total_emails, unique_recipients,
	is_root, is_root_candidate, candidate_reason, valuable, tag, first_seen_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.MerchantID, &c.Subject, &c.SubjectHash, &c.TotalEmails, &c.UniqueRecipients,
		&c.IsRoot, &c.IsRootCandidate, &c.CandidateReason, &c.Valuable, &c.Tag,
		&c.FirstSeenAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (q *queries) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(q.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM journey_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (q *queries) GetCampaignBySubjectHash(ctx context.Context, merchantID, subjectHash string) (*domain.Campaign, error) {
	c, err := scanCampaign(q.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM journey_campaigns WHERE merchant_id = $1 AND subject_hash = $2`,
		merchantID, subjectHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign by subject: %w", err)
	}
	return c, nil
}

func (q *queries) ListCampaigns(ctx context.Context, merchantID string) ([]domain.Campaign, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM journey_campaigns WHERE merchant_id = $1 ORDER BY first_seen_at, id`,
		merchantID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (q *queries) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO journey_campaigns
			(id, merchant_id, subject, subject_hash, first_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (merchant_id, subject_hash) DO NOTHING
		RETURNING created_at, updated_at
	`, c.ID, c.MerchantID, c.Subject, c.SubjectHash, c.FirstSeenAt).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (q *queries) IncrementCampaignCounters(ctx context.Context, campaignID string, emails, recipients int) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE journey_campaigns
		SET total_emails = total_emails + $1, unique_recipients = unique_recipients + $2, updated_at = NOW()
		WHERE id = $3
	`, emails, recipients, campaignID)
	if err != nil {
		return fmt.Errorf("increment campaign counters: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) RefreshCampaignStats(ctx context.Context, campaignID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE journey_campaigns c SET
			total_emails      = s.total,
			unique_recipients = s.recipients,
			updated_at        = NOW()
		FROM (
			SELECT COUNT(*) AS total, COUNT(DISTINCT recipient) AS recipients
			FROM journey_email_events WHERE campaign_id = $1
		) s
		WHERE c.id = $1
	`, campaignID)
	if err != nil {
		return fmt.Errorf("refresh campaign stats: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) updateCampaign(ctx context.Context, op, set string, args ...any) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE journey_campaigns SET `+set+`, updated_at = NOW() WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) SetCampaignRoot(ctx context.Context, campaignID string, isRoot bool) error {
	return q.updateCampaign(ctx, "set campaign root", "is_root = $2", campaignID, isRoot)
}

func (q *queries) SetCampaignRootCandidate(ctx context.Context, campaignID string, candidate bool, reason string) error {
	return q.updateCampaign(ctx, "set root candidate",
		"is_root_candidate = $2, candidate_reason = $3", campaignID, candidate, reason)
}

func (q *queries) SetCampaignTag(ctx context.Context, campaignID string, tag int) error {
	return q.updateCampaign(ctx, "set campaign tag", "tag = $2", campaignID, tag)
}

func (q *queries) SetCampaignValuable(ctx context.Context, campaignID string, valuable bool) error {
	return q.updateCampaign(ctx, "set campaign valuable", "valuable = $2", campaignID, valuable)
}

func (q *queries) DeleteCampaigns(ctx context.Context, merchantID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM journey_campaigns WHERE merchant_id = $1`, merchantID); err != nil {
		return fmt.Errorf("delete campaigns: %w", err)
	}
	return nil
}
