package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/lib/pq"
)

const projectColumns = `id, merchant_id, name, worker_names, status, last_analysis_time, last_stats, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*domain.AnalysisProject, error) {
	var (
		p       domain.AnalysisProject
		workers pq.StringArray
		lastAt  sql.NullTime
		stats   []byte
	)
	if err := row.Scan(&p.ID, &p.MerchantID, &p.Name, &workers, &p.Status, &lastAt, &stats,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.WorkerNames = []string(workers)
	if lastAt.Valid {
		t := lastAt.Time
		p.LastAnalysisTime = &t
	}
	if len(stats) > 0 {
		var st domain.AnalysisStats
		if err := json.Unmarshal(stats, &st); err != nil {
			return nil, fmt.Errorf("decode last_stats: %w", err)
		}
		p.LastStats = &st
	}
	return &p, nil
}

func (q *queries) CreateProject(ctx context.Context, p *domain.AnalysisProject) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO journey_projects (id, merchant_id, name, worker_names, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`, p.ID, p.MerchantID, p.Name, pq.Array(p.WorkerNames), p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (q *queries) GetProject(ctx context.Context, id string) (*domain.AnalysisProject, error) {
	p, err := scanProject(q.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM journey_projects WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (q *queries) ListProjects(ctx context.Context, merchantID string) ([]domain.AnalysisProject, error) {
	query := `SELECT ` + projectColumns + ` FROM journey_projects`
	var args []any
	if merchantID != "" {
		query += ` WHERE merchant_id = $1`
		args = append(args, merchantID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []domain.AnalysisProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (q *queries) UpdateProject(ctx context.Context, p *domain.AnalysisProject) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE journey_projects SET name = $1, status = $2, worker_names = $3, updated_at = NOW()
		WHERE id = $4
	`, p.Name, p.Status, pq.Array(p.WorkerNames), p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) DeleteProject(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM journey_projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) SetProjectAnalysis(ctx context.Context, projectID string, at time.Time, stats domain.AnalysisStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE journey_projects SET last_analysis_time = $1, last_stats = $2, updated_at = NOW()
		WHERE id = $3
	`, at, data, projectID)
	if err != nil {
		return fmt.Errorf("set project analysis: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) UpsertProjectRoot(ctx context.Context, r domain.ProjectRootCampaign) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO journey_project_roots (project_id, campaign_id, is_confirmed, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (project_id, campaign_id) DO UPDATE SET is_confirmed = EXCLUDED.is_confirmed
	`, r.ProjectID, r.CampaignID, r.IsConfirmed)
	if err != nil {
		return fmt.Errorf("upsert project root: %w", err)
	}
	return nil
}

func (q *queries) DeleteProjectRoot(ctx context.Context, projectID, campaignID string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM journey_project_roots WHERE project_id = $1 AND campaign_id = $2`,
		projectID, campaignID)
	if err != nil {
		return fmt.Errorf("delete project root: %w", err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *queries) ListProjectRoots(ctx context.Context, projectID string) ([]domain.ProjectRootCampaign, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT project_id, campaign_id, is_confirmed, created_at
		FROM journey_project_roots WHERE project_id = $1 ORDER BY campaign_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project roots: %w", err)
	}
	defer rows.Close()

	var out []domain.ProjectRootCampaign
	for rows.Next() {
		var r domain.ProjectRootCampaign
		if err := rows.Scan(&r.ProjectID, &r.CampaignID, &r.IsConfirmed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project root: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) UpsertProjectTag(ctx context.Context, t domain.ProjectCampaignTag) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO journey_project_tags (project_id, campaign_id, tag)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, campaign_id) DO UPDATE SET tag = EXCLUDED.tag
	`, t.ProjectID, t.CampaignID, t.Tag)
	if err != nil {
		return fmt.Errorf("upsert project tag: %w", err)
	}
	return nil
}

func (q *queries) ListProjectTags(ctx context.Context, projectID string) ([]domain.ProjectCampaignTag, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT project_id, campaign_id, tag FROM journey_project_tags
		WHERE project_id = $1 ORDER BY campaign_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tags: %w", err)
	}
	defer rows.Close()

	var out []domain.ProjectCampaignTag
	for rows.Next() {
		var t domain.ProjectCampaignTag
		if err := rows.Scan(&t.ProjectID, &t.CampaignID, &t.Tag); err != nil {
			return nil, fmt.Errorf("scan project tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) ReplaceProjectEdges(ctx context.Context, projectID string, edges []domain.ProjectPathEdge) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM journey_project_edges WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("clear project edges: %w", err)
	}
	if len(edges) == 0 {
		return nil
	}
	from := make([]string, len(edges))
	to := make([]string, len(edges))
	counts := make([]int64, len(edges))
	for i, e := range edges {
		from[i], to[i], counts[i] = e.FromCampaignID, e.ToCampaignID, int64(e.UserCount)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO journey_project_edges (project_id, from_campaign_id, to_campaign_id, user_count)
		SELECT $1, f::uuid, t::uuid, c
		FROM UNNEST($2::text[], $3::text[], $4::bigint[]) AS u(f, t, c)
	`, projectID, pq.Array(from), pq.Array(to), pq.Array(counts))
	if err != nil {
		return fmt.Errorf("insert project edges: %w", err)
	}
	return nil
}

func (q *queries) ListProjectEdges(ctx context.Context, projectID string) ([]domain.ProjectPathEdge, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT project_id, from_campaign_id, to_campaign_id, user_count
		FROM journey_project_edges WHERE project_id = $1
		ORDER BY user_count DESC, from_campaign_id, to_campaign_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project edges: %w", err)
	}
	defer rows.Close()

	var out []domain.ProjectPathEdge
	for rows.Next() {
		var e domain.ProjectPathEdge
		if err := rows.Scan(&e.ProjectID, &e.FromCampaignID, &e.ToCampaignID, &e.UserCount); err != nil {
			return nil, fmt.Errorf("scan project edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
