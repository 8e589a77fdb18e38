package retrieval

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// Ranked is one item of a ranked retrieval list.
type Ranked struct {
	ID    string
	Score float64
}

// RankedList is a named, weighted input to RRF fusion. Items must already
// be in rank order, best first.
type RankedList struct {
	Name   string
	Weight float64
	Items  []Ranked
}

// FusedResult is a single result after RRF fusion. Original per-list scores
// and ranks are preserved for observability.
type FusedResult struct {
	ID       string
	RRFScore float64
	Ranks    map[string]int     // 1-indexed rank per source list, 0 if absent
	Scores   map[string]float64 // original score per source list
	InAll    bool               // present in every input list
}

// RRFFusion combines ranked lists using Reciprocal Rank Fusion:
//
//	RRF_score(d) = Σ weight_i / (k + rank_i)
//
// Fusion is deterministic given identical inputs: ties break on list
// coverage, then id.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates an RRF fusion instance with the default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// Fuse combines two or more ranked lists into one. Items missing from a
// list contribute that list's weight at rank max(list lengths)+1.
func (f *RRFFusion) Fuse(lists ...RankedList) []FusedResult {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	maxLen := 0
	for _, l := range lists {
		if len(l.Items) > maxLen {
			maxLen = len(l.Items)
		}
	}
	if maxLen == 0 {
		return []FusedResult{}
	}
	missingRank := maxLen + 1

	results := make(map[string]*FusedResult)
	for _, l := range lists {
		weight := l.Weight
		if weight == 0 {
			weight = 1
		}
		for rank, item := range l.Items {
			r, ok := results[item.ID]
			if !ok {
				r = &FusedResult{
					ID:     item.ID,
					Ranks:  make(map[string]int, len(lists)),
					Scores: make(map[string]float64, len(lists)),
				}
				results[item.ID] = r
			}
			r.Ranks[l.Name] = rank + 1
			r.Scores[l.Name] = item.Score
			r.RRFScore += weight / float64(k+rank+1)
		}
	}

	// Items absent from a list still receive that list's contribution at
	// the missing rank, so single-list hits are penalized consistently.
	for _, r := range results {
		for _, l := range lists {
			if r.Ranks[l.Name] != 0 {
				continue
			}
			weight := l.Weight
			if weight == 0 {
				weight = 1
			}
			r.RRFScore += weight / float64(k+missingRank)
		}
		r.InAll = len(r.Ranks) == len(lists)
	}

	out := make([]FusedResult, 0, len(results))
	for _, r := range results {
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InAll != b.InAll {
			return a.InAll
		}
		return a.ID < b.ID
	})

	return out
}
