package domain

import "time"

// PathEntry is one campaign in a recipient's journey for a merchant.
// A campaign appears at most once per (MerchantID, Recipient), at the position
// of its first occurrence. SequenceOrder starts at 1 and is contiguous.
type PathEntry struct {
	MerchantID          string    `json:"merchant_id" db:"merchant_id"`
	Recipient           string    `json:"recipient" db:"recipient"`
	CampaignID          string    `json:"campaign_id" db:"campaign_id"`
	SequenceOrder       int       `json:"sequence_order" db:"sequence_order"`
	FirstReceivedAt     time.Time `json:"first_received_at" db:"first_received_at"`
	IsNewUser           *bool     `json:"is_new_user" db:"is_new_user"`
	FirstRootCampaignID *string   `json:"first_root_campaign_id,omitempty" db:"first_root_campaign_id"`
}

// Path is a recipient's ordered, deduplicated campaign sequence.
type Path struct {
	Recipient           string      `json:"recipient"`
	CampaignIDs         []string    `json:"campaign_ids"`
	FirstReceivedAt     []time.Time `json:"first_received_at"`
	IsNewUser           *bool       `json:"is_new_user"`
	FirstRootCampaignID string      `json:"first_root_campaign_id,omitempty"`
}

// Contains reports whether campaignID is anywhere in the path.
func (p Path) Contains(campaignID string) bool {
	return p.IndexOf(campaignID) >= 0
}

// IndexOf returns the zero-based position of campaignID, or -1.
func (p Path) IndexOf(campaignID string) int {
	for i, id := range p.CampaignIDs {
		if id == campaignID {
			return i
		}
	}
	return -1
}

// Entries expands the path into PathEntry rows for merchantID.
func (p Path) Entries(merchantID string) []PathEntry {
	out := make([]PathEntry, len(p.CampaignIDs))
	for i, id := range p.CampaignIDs {
		out[i] = PathEntry{
			MerchantID:      merchantID,
			Recipient:       p.Recipient,
			CampaignID:      id,
			SequenceOrder:   i + 1,
			FirstReceivedAt: p.FirstReceivedAt[i],
			IsNewUser:       p.IsNewUser,
		}
		if p.FirstRootCampaignID != "" {
			root := p.FirstRootCampaignID
			out[i].FirstRootCampaignID = &root
		}
	}
	return out
}

// PathsFromEntries groups entries into paths. Entries must already be ordered
// by recipient then SequenceOrder; recipient order is preserved.
func PathsFromEntries(entries []PathEntry) []Path {
	var out []Path
	for _, e := range entries {
		if len(out) == 0 || out[len(out)-1].Recipient != e.Recipient {
			p := Path{Recipient: e.Recipient, IsNewUser: e.IsNewUser}
			if e.FirstRootCampaignID != nil {
				p.FirstRootCampaignID = *e.FirstRootCampaignID
			}
			out = append(out, p)
		}
		last := &out[len(out)-1]
		last.CampaignIDs = append(last.CampaignIDs, e.CampaignID)
		last.FirstReceivedAt = append(last.FirstReceivedAt, e.FirstReceivedAt)
	}
	return out
}
