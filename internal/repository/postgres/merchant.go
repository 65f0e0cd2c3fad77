package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/campaign-journeys/internal/domain"
)

const merchantColumns = `id, domain, total_campaigns, total_emails, created_at, updated_at`

func scanMerchant(row interface{ Scan(...any) error }) (*domain.Merchant, error) {
	m := &domain.Merchant{}
	err := row.Scan(&m.ID, &m.Domain, &m.TotalCampaigns, &m.TotalEmails, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (q *queries) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	m, err := scanMerchant(q.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM journey_merchants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return m, nil
}

func (q *queries) GetMerchantByDomain(ctx context.Context, domainName string) (*domain.Merchant, error) {
	m, err := scanMerchant(q.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM journey_merchants WHERE domain = $1`, domainName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant by domain: %w", err)
	}
	return m, nil
}

func (q *queries) ListMerchants(ctx context.Context) ([]domain.Merchant, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+merchantColumns+` FROM journey_merchants ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer rows.Close()

	var out []domain.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (q *queries) CreateMerchant(ctx context.Context, m *domain.Merchant) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO journey_merchants (id, domain, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (domain) DO NOTHING
		RETURNING created_at, updated_at
	`, m.ID, m.Domain).Scan(&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create merchant: %w", err)
	}
	return nil
}

func (q *queries) RefreshMerchantStats(ctx context.Context, merchantID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE journey_merchants SET
			total_campaigns = (SELECT COUNT(*) FROM journey_campaigns WHERE merchant_id = $1),
			total_emails    = (SELECT COUNT(*) FROM journey_email_events WHERE merchant_id = $1),
			updated_at      = NOW()
		WHERE id = $1
	`, merchantID)
	if err != nil {
		return fmt.Errorf("refresh merchant stats: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) DeleteMerchant(ctx context.Context, merchantID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM journey_merchants WHERE id = $1`, merchantID)
	if err != nil {
		return fmt.Errorf("delete merchant: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}
