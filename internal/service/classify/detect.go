package classify

import (
	"fmt"
	"strings"

	"github.com/ignite/campaign-journeys/internal/domain"
)

// DefaultKeywords are subject fragments typical of journey-opening emails.
var DefaultKeywords = []string{
	"welcome",
	"thanks for signing up",
	"thank you for signing up",
	"thanks for subscribing",
	"confirm your",
	"verify your",
	"get started",
}

// DetectionConfig tunes root candidate detection.
type DetectionConfig struct {
	Keywords []string
	// A campaign that opens at least FirstPositionRatio (0-1) of the paths it
	// appears in, over at least MinRecipients recipients, is a candidate.
	FirstPositionRatio float64
	MinRecipients      int
}

// Candidate is a campaign suggested as a root, with the rules that matched.
type Candidate struct {
	CampaignID string `json:"campaign_id"`
	Subject    string `json:"subject"`
	Reason     string `json:"reason"`
}

type positionStats struct {
	first, total int
}

// detect returns the candidate reason for every campaign that matches a rule.
// Confirmed roots are never candidates.
func detect(campaigns []domain.Campaign, paths []domain.Path, cfg DetectionConfig) map[string]string {
	pos := make(map[string]*positionStats)
	for _, p := range paths {
		for i, id := range p.CampaignIDs {
			st := pos[id]
			if st == nil {
				st = &positionStats{}
				pos[id] = st
			}
			st.total++
			if i == 0 {
				st.first++
			}
		}
	}

	out := make(map[string]string)
	for _, c := range campaigns {
		if c.IsRoot {
			continue
		}
		var reasons []string
		subject := strings.ToLower(c.Subject)
		for _, kw := range cfg.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(subject, kw) {
				reasons = append(reasons, fmt.Sprintf("subject contains %q", kw))
				break
			}
		}
		if st := pos[c.ID]; st != nil && cfg.FirstPositionRatio > 0 && st.total >= cfg.MinRecipients {
			ratio := float64(st.first) / float64(st.total)
			if ratio >= cfg.FirstPositionRatio {
				reasons = append(reasons, fmt.Sprintf("first campaign for %.0f%% of %d recipients", ratio*100, st.total))
			}
		}
		if len(reasons) > 0 {
			out[c.ID] = strings.Join(reasons, "; ")
		}
	}
	return out
}
