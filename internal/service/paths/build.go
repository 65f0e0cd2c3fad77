package paths

import (
	"sort"
	"time"

	"github.com/ignite/campaign-journeys/internal/domain"
)

// Insert adds campaignID to p at the position given by at, unless the
// campaign is already present. It returns the updated path, the zero-based
// index of the new entry, and whether anything was inserted.
//
// The entry goes after every existing entry received at or before at, so
// feeding events in (ReceivedAt, ID) order always appends. Both incremental
// tracking and rebuild go through this function, which is what keeps their
// orderings identical.
func Insert(p domain.Path, campaignID string, at time.Time) (domain.Path, int, bool) {
	if p.Contains(campaignID) {
		return p, -1, false
	}
	pos := len(p.CampaignIDs)
	for i, t := range p.FirstReceivedAt {
		if t.After(at) {
			pos = i
			break
		}
	}

	ids := make([]string, 0, len(p.CampaignIDs)+1)
	ids = append(ids, p.CampaignIDs[:pos]...)
	ids = append(ids, campaignID)
	ids = append(ids, p.CampaignIDs[pos:]...)

	times := make([]time.Time, 0, len(p.FirstReceivedAt)+1)
	times = append(times, p.FirstReceivedAt[:pos]...)
	times = append(times, at)
	times = append(times, p.FirstReceivedAt[pos:]...)

	p.CampaignIDs = ids
	p.FirstReceivedAt = times
	return p, pos, true
}

// BuildPaths derives one path per recipient from events. Events are ordered by
// (ReceivedAt, ID) first; the result is sorted by recipient.
func BuildPaths(events []domain.EmailEvent) []domain.Path {
	sorted := append([]domain.EmailEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ReceivedAt.Equal(sorted[j].ReceivedAt) {
			return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	byRecipient := make(map[string]*domain.Path)
	var order []string
	for _, e := range sorted {
		p, ok := byRecipient[e.Recipient]
		if !ok {
			p = &domain.Path{Recipient: e.Recipient}
			byRecipient[e.Recipient] = p
			order = append(order, e.Recipient)
		}
		*p, _, _ = Insert(*p, e.CampaignID, e.ReceivedAt)
	}

	sort.Strings(order)
	out := make([]domain.Path, 0, len(order))
	for _, r := range order {
		out = append(out, *byRecipient[r])
	}
	return out
}

// Entries flattens paths into PathEntry rows for merchantID.
func Entries(merchantID string, paths []domain.Path) []domain.PathEntry {
	var out []domain.PathEntry
	for _, p := range paths {
		out = append(out, p.Entries(merchantID)...)
	}
	return out
}
