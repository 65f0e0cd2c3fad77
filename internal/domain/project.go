package domain

import "time"

// ProjectStatus enumerates the lifecycle states of an analysis project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

// AnalysisProject scopes journey analysis to one merchant and a subset of
// ingesting worker instances. Its roots and tags are independent of the
// merchant-global campaign rows.
type AnalysisProject struct {
	ID               string         `json:"id" db:"id"`
	MerchantID       string         `json:"merchant_id" db:"merchant_id"`
	Name             string         `json:"name" db:"name"`
	WorkerNames      []string       `json:"worker_names" db:"worker_names"`
	Status           ProjectStatus  `json:"status" db:"status"`
	LastAnalysisTime *time.Time     `json:"last_analysis_time" db:"last_analysis_time"`
	LastStats        *AnalysisStats `json:"last_stats,omitempty" db:"last_stats"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// ProjectRootCampaign marks a campaign as a journey root within one project.
type ProjectRootCampaign struct {
	ProjectID   string    `json:"project_id" db:"project_id"`
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	IsConfirmed bool      `json:"is_confirmed" db:"is_confirmed"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProjectCampaignTag overrides a campaign's tag within one project.
type ProjectCampaignTag struct {
	ProjectID  string `json:"project_id" db:"project_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	Tag        int    `json:"tag" db:"tag"`
}

// ProjectPathEdge is a cached transition computed by a project's last run.
type ProjectPathEdge struct {
	ProjectID      string `json:"project_id" db:"project_id"`
	FromCampaignID string `json:"from_campaign_id" db:"from_campaign_id"`
	ToCampaignID   string `json:"to_campaign_id" db:"to_campaign_id"`
	UserCount      int    `json:"user_count" db:"user_count"`
}

// AnalysisStats summarises one completed analysis run.
type AnalysisStats struct {
	TotalRecipients int           `json:"total_recipients"`
	NewUsers        int           `json:"new_users"`
	OldUsers        int           `json:"old_users"`
	TotalEvents     int           `json:"total_events"`
	EdgeCount       int           `json:"edge_count"`
	MaxPathLength   int           `json:"max_path_length"`
	Duration        time.Duration `json:"duration_ns"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// UserTypeStats partitions recipients by new/old classification.
// NewUsers + OldUsers == TotalRecipients always.
type UserTypeStats struct {
	TotalRecipients int     `json:"total_recipients"`
	NewUsers        int     `json:"new_users"`
	OldUsers        int     `json:"old_users"`
	NewUserRate     float64 `json:"new_user_rate"`
}

// AnalysisSnapshot is the archived record of one completed analysis run.
type AnalysisSnapshot struct {
	ProjectID   string            `json:"project_id"`
	MerchantID  string            `json:"merchant_id"`
	Name        string            `json:"name"`
	WorkerNames []string          `json:"worker_names"`
	RootIDs     []string          `json:"root_campaign_ids"`
	Stats       AnalysisStats     `json:"stats"`
	Edges       []ProjectPathEdge `json:"edges"`
}
