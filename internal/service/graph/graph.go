// Package graph derives journey analytics from recipient paths: per-level
// campaign popularity, flow graphs from a starting campaign, transition
// tables and main/secondary branch classification.
//
// Everything here is a pure function of the paths passed in. Percentages are
// on a 0-100 scale and are not rounded.
package graph

import (
	"sort"

	"github.com/ignite/campaign-journeys/internal/domain"
)

// LevelCampaign is one campaign's share of a level.
type LevelCampaign struct {
	CampaignID     string  `json:"campaign_id"`
	Subject        string  `json:"subject,omitempty"`
	RecipientCount int     `json:"recipient_count"`
	Percentage     float64 `json:"percentage"`
}

// Level groups the campaigns recipients received at one path position.
type Level struct {
	Level     int             `json:"level"`
	Campaigns []LevelCampaign `json:"campaigns"`
}

// Levels is the result of ComputeLevels.
type Levels struct {
	TotalRecipients int     `json:"total_recipients"`
	Levels          []Level `json:"levels"`
}

// FlowOptions selects the baseline and depth of a flow graph.
type FlowOptions struct {
	// StartCampaignID restricts the baseline to recipients whose path
	// contains it and re-slices their paths to start there. Empty means
	// every recipient, unsliced.
	StartCampaignID string
	// MaxLevel truncates sliced paths. Zero means unlimited.
	MaxLevel int
}

// FlowNode is a campaign at a level of the sliced paths.
type FlowNode struct {
	CampaignID     string  `json:"campaign_id"`
	Subject        string  `json:"subject,omitempty"`
	Level          int     `json:"level"`
	RecipientCount int     `json:"recipient_count"`
	Percentage     float64 `json:"percentage"`
}

// FlowEdge counts recipients who went from one campaign at Level straight to
// another at Level+1.
type FlowEdge struct {
	FromCampaignID string  `json:"from_campaign_id"`
	ToCampaignID   string  `json:"to_campaign_id"`
	Level          int     `json:"level"`
	RecipientCount int     `json:"recipient_count"`
	Percentage     float64 `json:"percentage"`
}

// Flow is a node/edge graph relative to a baseline population.
type Flow struct {
	StartCampaignID string     `json:"start_campaign_id,omitempty"`
	Baseline        int        `json:"baseline"`
	Nodes           []FlowNode `json:"nodes"`
	Edges           []FlowEdge `json:"edges"`
}

// Transition is an edge aggregated across levels.
type Transition struct {
	FromCampaignID string  `json:"from_campaign_id"`
	FromSubject    string  `json:"from_subject,omitempty"`
	ToCampaignID   string  `json:"to_campaign_id"`
	ToSubject      string  `json:"to_subject,omitempty"`
	RecipientCount int     `json:"recipient_count"`
	Percentage     float64 `json:"percentage"`
	// ShareOfSource is the fraction (0-100) of baseline recipients who
	// received FromCampaignID and then went straight to ToCampaignID.
	ShareOfSource float64 `json:"share_of_source"`
}

// BranchOptions controls main/secondary classification.
type BranchOptions struct {
	MinPathLength     int     `json:"min_path_length"`
	MainPathThreshold float64 `json:"main_path_threshold"`
}

// BranchEdge is a flow edge with its classification inputs.
type BranchEdge struct {
	FlowEdge
	// PathLength is the number of campaigns up to and including the target.
	PathLength int  `json:"path_length"`
	Main       bool `json:"main"`
}

// BranchAnalysis splits flow edges into main and secondary paths.
type BranchAnalysis struct {
	Options        BranchOptions `json:"options"`
	Baseline       int           `json:"baseline"`
	MainPaths      []BranchEdge  `json:"main_paths"`
	SecondaryPaths []BranchEdge  `json:"secondary_paths"`
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) * 100 / float64(of)
}

// ComputeLevels counts, for every path position, how many recipients got
// each campaign there. Levels ascend; campaigns within a level are ordered by
// count descending, then id.
func ComputeLevels(paths []domain.Path) Levels {
	total := 0
	counts := make(map[int]map[string]int)
	for _, p := range paths {
		if len(p.CampaignIDs) == 0 {
			continue
		}
		total++
		for i, id := range p.CampaignIDs {
			lvl := i + 1
			if counts[lvl] == nil {
				counts[lvl] = make(map[string]int)
			}
			counts[lvl][id]++
		}
	}

	out := Levels{TotalRecipients: total, Levels: []Level{}}
	for lvl, byCampaign := range counts {
		l := Level{Level: lvl}
		for id, n := range byCampaign {
			l.Campaigns = append(l.Campaigns, LevelCampaign{
				CampaignID:     id,
				RecipientCount: n,
				Percentage:     percent(n, total),
			})
		}
		sort.Slice(l.Campaigns, func(i, j int) bool {
			a, b := l.Campaigns[i], l.Campaigns[j]
			if a.RecipientCount != b.RecipientCount {
				return a.RecipientCount > b.RecipientCount
			}
			return a.CampaignID < b.CampaignID
		})
		out.Levels = append(out.Levels, l)
	}
	sort.Slice(out.Levels, func(i, j int) bool { return out.Levels[i].Level < out.Levels[j].Level })
	return out
}

// slice returns the part of a path the flow looks at, or nil if the recipient
// is outside the baseline.
func slice(p domain.Path, opts FlowOptions) []string {
	ids := p.CampaignIDs
	if opts.StartCampaignID != "" {
		idx := p.IndexOf(opts.StartCampaignID)
		if idx < 0 {
			return nil
		}
		ids = ids[idx:]
	}
	if opts.MaxLevel > 0 && len(ids) > opts.MaxLevel {
		ids = ids[:opts.MaxLevel]
	}
	return ids
}

type nodeKey struct {
	level    int
	campaign string
}

type edgeKey struct {
	level    int
	from, to string
}

// ComputeFlow builds the flow graph for opts. Node and edge percentages are
// relative to the baseline size. An edge's count never exceeds its source
// node's count.
func ComputeFlow(paths []domain.Path, opts FlowOptions) Flow {
	nodes := make(map[nodeKey]int)
	edges := make(map[edgeKey]int)
	baseline := 0

	for _, p := range paths {
		ids := slice(p, opts)
		if len(ids) == 0 {
			continue
		}
		baseline++
		for i, id := range ids {
			nodes[nodeKey{i + 1, id}]++
			if i > 0 {
				edges[edgeKey{i, ids[i-1], id}]++
			}
		}
	}

	f := Flow{
		StartCampaignID: opts.StartCampaignID,
		Baseline:        baseline,
		Nodes:           make([]FlowNode, 0, len(nodes)),
		Edges:           make([]FlowEdge, 0, len(edges)),
	}
	for k, n := range nodes {
		f.Nodes = append(f.Nodes, FlowNode{
			CampaignID:     k.campaign,
			Level:          k.level,
			RecipientCount: n,
			Percentage:     percent(n, baseline),
		})
	}
	for k, n := range edges {
		f.Edges = append(f.Edges, FlowEdge{
			FromCampaignID: k.from,
			ToCampaignID:   k.to,
			Level:          k.level,
			RecipientCount: n,
			Percentage:     percent(n, baseline),
		})
	}
	sort.Slice(f.Nodes, func(i, j int) bool {
		a, b := f.Nodes[i], f.Nodes[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.RecipientCount != b.RecipientCount {
			return a.RecipientCount > b.RecipientCount
		}
		return a.CampaignID < b.CampaignID
	})
	sortFlowEdges(f.Edges)
	return f
}

func sortFlowEdges(edges []FlowEdge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.RecipientCount != b.RecipientCount {
			return a.RecipientCount > b.RecipientCount
		}
		if a.FromCampaignID != b.FromCampaignID {
			return a.FromCampaignID < b.FromCampaignID
		}
		return a.ToCampaignID < b.ToCampaignID
	})
}

// ComputeTransitions folds flow edges across levels into one row per
// (from, to) pair, ordered by count descending.
func ComputeTransitions(f Flow) []Transition {
	// A campaign appears at most once per path, so summing across levels
	// counts distinct recipients.
	received := make(map[string]int)
	for _, n := range f.Nodes {
		received[n.CampaignID] += n.RecipientCount
	}
	type pair struct{ from, to string }
	counts := make(map[pair]int)
	for _, e := range f.Edges {
		counts[pair{e.FromCampaignID, e.ToCampaignID}] += e.RecipientCount
	}

	out := make([]Transition, 0, len(counts))
	for k, n := range counts {
		out = append(out, Transition{
			FromCampaignID: k.from,
			ToCampaignID:   k.to,
			RecipientCount: n,
			Percentage:     percent(n, f.Baseline),
			ShareOfSource:  percent(n, received[k.from]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RecipientCount != b.RecipientCount {
			return a.RecipientCount > b.RecipientCount
		}
		if a.FromCampaignID != b.FromCampaignID {
			return a.FromCampaignID < b.FromCampaignID
		}
		return a.ToCampaignID < b.ToCampaignID
	})
	return out
}

// ComputeBranches classifies each flow edge as main when its percentage is at
// least MainPathThreshold and the path reaching its target has at least
// MinPathLength campaigns; otherwise it is secondary.
func ComputeBranches(f Flow, opts BranchOptions) BranchAnalysis {
	out := BranchAnalysis{
		Options:        opts,
		Baseline:       f.Baseline,
		MainPaths:      []BranchEdge{},
		SecondaryPaths: []BranchEdge{},
	}
	for _, e := range f.Edges {
		b := BranchEdge{FlowEdge: e, PathLength: e.Level + 1}
		b.Main = e.Percentage >= opts.MainPathThreshold && b.PathLength >= opts.MinPathLength
		if b.Main {
			out.MainPaths = append(out.MainPaths, b)
		} else {
			out.SecondaryPaths = append(out.SecondaryPaths, b)
		}
	}
	return out
}

// AggregateEdges counts consecutive campaign pairs over whole paths, merged
// across levels. The result carries no ProjectID.
func AggregateEdges(paths []domain.Path) []domain.ProjectPathEdge {
	rows := ComputeTransitions(ComputeFlow(paths, FlowOptions{}))
	out := make([]domain.ProjectPathEdge, len(rows))
	for i, r := range rows {
		out[i] = domain.ProjectPathEdge{
			FromCampaignID: r.FromCampaignID,
			ToCampaignID:   r.ToCampaignID,
			UserCount:      r.RecipientCount,
		}
	}
	return out
}
