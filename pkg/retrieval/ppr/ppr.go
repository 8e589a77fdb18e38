// Package ppr implements the Personalized-PageRank graph retriever used for
// deterministic multi-hop traversal over the entity co-occurrence graph.
//
// Determinism is a first-class contract here: identical seeds, graph
// snapshot, and parameters must produce bit-identical rankings on every
// run, because results feed audit-grade answers. All iteration happens over
// slices in a fixed, sorted node order; maps are only used for lookups.
package ppr

import (
	"regexp"
	"sort"
	"strings"

	"lattice/pkg/common"
)

// Params configures seed expansion and the PageRank power iteration.
type Params struct {
	Damping           float64 // teleport-complement factor, conventionally 0.85
	Epsilon           float64 // L1 convergence threshold
	MaxIterations     int
	MaxMatchesPerSeed int     // cap on graph matches per seed term
	MaxSeeds          int     // cap on the aggregate, deduplicated seed set
	JaccardThreshold  float64 // minimum token-overlap similarity for fuzzy seed matches
	DegreeFallback    bool    // fall back to highest-degree nodes when no seed matches
}

// DefaultParams returns the conventional parameter set.
func DefaultParams() Params {
	return Params{
		// The L1 delta decays as Damping^k, so Epsilon must be reachable
		// within MaxIterations: 0.85^200 is far below 1e-8, 0.85^100 is not
		// below 1e-9.
		Damping:           0.85,
		Epsilon:           1e-8,
		MaxIterations:     200,
		MaxMatchesPerSeed: 5,
		MaxSeeds:          25,
		JaccardThreshold:  0.5,
		DegreeFallback:    true,
	}
}

type neighbor struct {
	idx    int
	weight float64
}

// Graph is an immutable snapshot of a tenant's entity graph, prepared for
// repeated PPR runs. Nodes are held in sorted-id order so traversal order
// is stable across runs and across processes.
type Graph struct {
	nodes  []common.Entity
	byID   map[string]int
	adj    [][]neighbor
	outSum []float64
}

// NewGraph builds a traversal snapshot from entities and co-occurrence
// edges. Edges are treated as bidirectional; duplicate edges between the
// same pair are collapsed and self-loops contribute a single arc, so no
// mass is double-counted.
func NewGraph(entities []common.Entity, edges []common.EntityEdge) *Graph {
	nodes := make([]common.Entity, len(entities))
	copy(nodes, entities)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	byID := make(map[string]int, len(nodes))
	for i, n := range nodes {
		byID[n.ID] = i
	}

	type arc struct {
		from, to int
	}
	weights := make(map[arc]float64, len(edges)*2)
	for _, e := range edges {
		si, ok := byID[e.SourceID]
		if !ok {
			continue
		}
		ti, ok := byID[e.TargetID]
		if !ok {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		if si == ti {
			// Self-loop: a single arc, kept once.
			if _, seen := weights[arc{si, si}]; !seen {
				weights[arc{si, si}] = w
			}
			continue
		}
		if _, seen := weights[arc{si, ti}]; !seen {
			weights[arc{si, ti}] = w
			weights[arc{ti, si}] = w
		}
	}

	adj := make([][]neighbor, len(nodes))
	outSum := make([]float64, len(nodes))
	for a, w := range weights {
		adj[a.from] = append(adj[a.from], neighbor{idx: a.to, weight: w})
		outSum[a.from] += w
	}
	// Neighbor lists in index order: map iteration above is unordered, the
	// ranking must not be.
	for i := range adj {
		sort.Slice(adj[i], func(a, b int) bool { return adj[i][a].idx < adj[i][b].idx })
	}

	return &Graph{nodes: nodes, byID: byID, adj: adj, outSum: outSum}
}

// Size returns the number of nodes in the snapshot.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Match is one ranked entity from a retrieval run.
type Match struct {
	Entity common.Entity
	Score  float64
}

// Result is the outcome of a PPR retrieval. DegreeFallback marks results
// produced by the no-seed fallback so callers never mistake them for
// seed-anchored rankings.
type Result struct {
	Matches        []Match
	SeedIDs        []string
	DegreeFallback bool
	Iterations     int
	Converged      bool
}

// Retrieve expands seed terms against the snapshot and runs personalized
// PageRank, returning the top-K entities by score. An empty graph yields an
// empty result; nodes unreachable from every seed score exactly zero and
// are excluded from matches.
func Retrieve(g *Graph, seedTerms []string, topK int, params Params) Result {
	if g == nil || len(g.nodes) == 0 {
		return Result{Matches: []Match{}}
	}
	if topK <= 0 {
		topK = 10
	}

	seedIdx := expandSeeds(g, seedTerms, params)
	result := Result{}

	if len(seedIdx) == 0 {
		if !params.DegreeFallback {
			result.Matches = []Match{}
			return result
		}
		result.DegreeFallback = true
		result.Matches = topByDegree(g, topK)
		return result
	}

	for _, idx := range seedIdx {
		result.SeedIDs = append(result.SeedIDs, g.nodes[idx].ID)
	}

	scores, iterations, converged := powerIterate(g, seedIdx, params)
	result.Iterations = iterations
	result.Converged = converged

	type scoredIdx struct {
		idx   int
		score float64
	}
	ranked := make([]scoredIdx, 0, len(scores))
	for i, s := range scores {
		if s == 0 {
			continue
		}
		ranked = append(ranked, scoredIdx{idx: i, score: s})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return g.nodes[ranked[a].idx].ID < g.nodes[ranked[b].idx].ID
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	result.Matches = make([]Match, 0, len(ranked))
	for _, r := range ranked {
		result.Matches = append(result.Matches, Match{Entity: g.nodes[r.idx], Score: r.score})
	}
	return result
}

// expandSeeds resolves each seed term to at most MaxMatchesPerSeed nodes
// via a cascade: exact case-insensitive name match, then substring match,
// then Jaccard token overlap. The first tier that matches wins per term.
// The aggregate set is deduplicated and capped at MaxSeeds.
func expandSeeds(g *Graph, terms []string, params Params) []int {
	maxPerSeed := params.MaxMatchesPerSeed
	if maxPerSeed <= 0 {
		maxPerSeed = 5
	}
	maxSeeds := params.MaxSeeds
	if maxSeeds <= 0 {
		maxSeeds = 25
	}

	seen := make(map[int]bool)
	var out []int
	add := func(idx int) {
		if len(out) >= maxSeeds || seen[idx] {
			return
		}
		seen[idx] = true
		out = append(out, idx)
	}

	for _, term := range terms {
		needle := strings.ToLower(strings.TrimSpace(term))
		if needle == "" {
			continue
		}

		matches := matchTier(g, func(name string) bool { return name == needle }, maxPerSeed)
		if len(matches) == 0 {
			matches = matchTier(g, func(name string) bool { return strings.Contains(name, needle) }, maxPerSeed)
		}
		if len(matches) == 0 {
			needleTokens := tokenize(needle)
			matches = matchTier(g, func(name string) bool {
				return jaccard(needleTokens, tokenize(name)) >= params.JaccardThreshold
			}, maxPerSeed)
		}
		for _, m := range matches {
			add(m)
		}
	}

	sort.Ints(out)
	return out
}

func matchTier(g *Graph, match func(lowerName string) bool, limit int) []int {
	var out []int
	for i, n := range g.nodes {
		if match(strings.ToLower(n.Name)) {
			out = append(out, i)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

var tokenPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range tokenPattern.Split(strings.ToLower(s), -1) {
		if t != "" {
			tokens[t] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// powerIterate runs the personalized PageRank power iteration. Teleport
// mass and dangling mass both go to the seed set only, which keeps nodes
// in components unreachable from every seed at exactly zero.
func powerIterate(g *Graph, seedIdx []int, params Params) (scores []float64, iterations int, converged bool) {
	damping := params.Damping
	if damping <= 0 || damping >= 1 {
		damping = 0.85
	}
	epsilon := params.Epsilon
	if epsilon <= 0 {
		epsilon = 1e-9
	}
	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	n := len(g.nodes)
	personalization := make([]float64, n)
	seedWeight := 1.0 / float64(len(seedIdx))
	for _, idx := range seedIdx {
		personalization[idx] = seedWeight
	}

	current := make([]float64, n)
	copy(current, personalization)
	next := make([]float64, n)

	for iterations = 1; iterations <= maxIter; iterations++ {
		for i := range next {
			next[i] = 0
		}

		dangling := 0.0
		for i := 0; i < n; i++ {
			mass := current[i]
			if mass == 0 {
				continue
			}
			if g.outSum[i] == 0 {
				dangling += mass
				continue
			}
			for _, nb := range g.adj[i] {
				next[nb.idx] += mass * nb.weight / g.outSum[i]
			}
		}

		diff := 0.0
		for i := 0; i < n; i++ {
			value := (1-damping)*personalization[i] + damping*(next[i]+dangling*personalization[i])
			next[i] = value
			d := value - current[i]
			if d < 0 {
				d = -d
			}
			diff += d
		}

		current, next = next, current
		if diff < epsilon {
			converged = true
			break
		}
	}
	if iterations > maxIter {
		iterations = maxIter
	}

	return current, iterations, converged
}

func topByDegree(g *Graph, topK int) []Match {
	idx := make([]int, len(g.nodes))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		na, nb := g.nodes[idx[a]], g.nodes[idx[b]]
		if na.Degree != nb.Degree {
			return na.Degree > nb.Degree
		}
		return na.ID < nb.ID
	})
	if len(idx) > topK {
		idx = idx[:topK]
	}
	matches := make([]Match, 0, len(idx))
	for _, i := range idx {
		matches = append(matches, Match{Entity: g.nodes[i], Score: float64(g.nodes[i].Degree)})
	}
	return matches
}
