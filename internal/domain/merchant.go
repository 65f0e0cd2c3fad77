package domain

import "time"

// DefaultWorkerName tags events whose ingesting instance is unspecified.
const DefaultWorkerName = "global"

// Merchant is a sending domain. Its counters are derived from campaigns and
// events and are recomputed on writes; they are never the source of truth.
type Merchant struct {
	ID             string    `json:"id" db:"id"`
	Domain         string    `json:"domain" db:"domain"`
	TotalCampaigns int       `json:"total_campaigns" db:"total_campaigns"`
	TotalEmails    int       `json:"total_emails" db:"total_emails"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Campaign groups a merchant's emails sharing one normalized subject.
// Unique per (MerchantID, SubjectHash).
type Campaign struct {
	ID               string    `json:"id" db:"id"`
	MerchantID       string    `json:"merchant_id" db:"merchant_id"`
	Subject          string    `json:"subject" db:"subject"`
	SubjectHash      string    `json:"subject_hash" db:"subject_hash"`
	TotalEmails      int       `json:"total_emails" db:"total_emails"`
	UniqueRecipients int       `json:"unique_recipients" db:"unique_recipients"`
	IsRoot           bool      `json:"is_root" db:"is_root"`
	IsRootCandidate  bool      `json:"is_root_candidate" db:"is_root_candidate"`
	CandidateReason  string    `json:"candidate_reason,omitempty" db:"candidate_reason"`
	Valuable         bool      `json:"valuable" db:"valuable"`
	Tag              int       `json:"tag" db:"tag"`
	FirstSeenAt      time.Time `json:"first_seen_at" db:"first_seen_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// MaxCampaignTag is the highest tag value a campaign may carry (tags are 0..4).
const MaxCampaignTag = 4

// ValidTag reports whether tag is within the accepted 0..4 range.
func ValidTag(tag int) bool {
	return tag >= 0 && tag <= MaxCampaignTag
}

// EmailEvent is one delivered email. Events are immutable and are the ground
// truth every derived structure is rebuilt from.
//
// ID is assigned by the store in insertion order and breaks ReceivedAt ties.
type EmailEvent struct {
	ID         int64     `json:"id" db:"id"`
	MerchantID string    `json:"merchant_id" db:"merchant_id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	Recipient  string    `json:"recipient" db:"recipient"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
	WorkerName string    `json:"worker_name" db:"worker_name"`
}
