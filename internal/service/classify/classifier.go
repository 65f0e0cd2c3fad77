// Package classify manages root campaigns and new-vs-returning recipient
// classification.
//
// A recipient is a new user when the first campaign in their path is a
// confirmed root. Changing the root set can reclassify anyone, so
// classification is recomputed as a full sweep behind the Classifier
// interface.
package classify

import "github.com/ignite/campaign-journeys/internal/domain"

// Classification is the outcome for one recipient.
type Classification struct {
	Recipient           string
	IsNewUser           bool
	FirstRootCampaignID string
}

// Classifier decides new/old status for every path given a confirmed root set.
type Classifier interface {
	Classify(paths []domain.Path, roots map[string]bool) []Classification
}

// FullSweep inspects only the first campaign of each path.
type FullSweep struct{}

// Classify implements Classifier.
func (FullSweep) Classify(paths []domain.Path, roots map[string]bool) []Classification {
	out := make([]Classification, 0, len(paths))
	for _, p := range paths {
		c := Classification{Recipient: p.Recipient}
		if len(p.CampaignIDs) > 0 && roots[p.CampaignIDs[0]] {
			c.IsNewUser = true
			c.FirstRootCampaignID = p.CampaignIDs[0]
		}
		out = append(out, c)
	}
	return out
}

// Summarize counts classifications. NewUsers + OldUsers == TotalRecipients.
func Summarize(cs []Classification) domain.UserTypeStats {
	st := domain.UserTypeStats{TotalRecipients: len(cs)}
	for _, c := range cs {
		if c.IsNewUser {
			st.NewUsers++
		}
	}
	st.OldUsers = st.TotalRecipients - st.NewUsers
	if st.TotalRecipients > 0 {
		st.NewUserRate = float64(st.NewUsers) * 100 / float64(st.TotalRecipients)
	}
	return st
}
