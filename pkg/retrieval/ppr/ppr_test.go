package ppr

import (
	"reflect"
	"testing"

	"lattice/pkg/common"
)

func testGraph() *Graph {
	// Two components: {a,b,c} connected, {x,y} connected, z isolated.
	entities := []common.Entity{
		{ID: "ent-a", Name: "Turbine Assembly", Degree: 2},
		{ID: "ent-b", Name: "Gearbox", Degree: 2},
		{ID: "ent-c", Name: "Rotor Blade", Degree: 1},
		{ID: "ent-x", Name: "Maintenance Schedule", Degree: 1},
		{ID: "ent-y", Name: "Inspection Report", Degree: 1},
		{ID: "ent-z", Name: "Unrelated Widget", Degree: 0},
	}
	edges := []common.EntityEdge{
		{SourceID: "ent-a", TargetID: "ent-b", Weight: 2},
		{SourceID: "ent-b", TargetID: "ent-c", Weight: 1},
		{SourceID: "ent-x", TargetID: "ent-y", Weight: 1},
	}
	return NewGraph(entities, edges)
}

func TestRetrieveDeterminism(t *testing.T) {
	g := testGraph()
	params := DefaultParams()

	first := Retrieve(g, []string{"turbine assembly"}, 10, params)
	for i := 0; i < 5; i++ {
		again := Retrieve(g, []string{"turbine assembly"}, 10, params)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\nfirst: %+v\nagain: %+v", i, first, again)
		}
	}
}

func TestRetrieveDisconnectedComponentsScoreZero(t *testing.T) {
	g := testGraph()
	result := Retrieve(g, []string{"turbine assembly"}, 10, DefaultParams())

	if result.DegreeFallback {
		t.Fatal("expected seed-anchored run, got degree fallback")
	}
	if !result.Converged {
		t.Fatalf("expected convergence, stopped after %d iterations", result.Iterations)
	}
	for _, m := range result.Matches {
		switch m.Entity.ID {
		case "ent-x", "ent-y", "ent-z":
			t.Errorf("entity %s is unreachable from seeds but scored %v", m.Entity.ID, m.Score)
		}
	}
	if len(result.Matches) != 3 {
		t.Fatalf("expected 3 reachable entities, got %d", len(result.Matches))
	}
	if result.Matches[0].Entity.ID != "ent-a" {
		t.Errorf("expected seed entity ranked first, got %s", result.Matches[0].Entity.ID)
	}
}

func TestDefaultParamsReachConvergence(t *testing.T) {
	// The L1 delta decays no faster than Damping^k, so the default Epsilon
	// must be reachable strictly within the default iteration budget or the
	// Converged flag can never be truthful.
	params := DefaultParams()
	bound := 1.0
	iterations := 0
	for bound > params.Epsilon && iterations < params.MaxIterations {
		bound *= params.Damping
		iterations++
	}
	if bound > params.Epsilon {
		t.Fatalf("defaults cannot converge: %v^%d = %g > epsilon %g",
			params.Damping, params.MaxIterations, bound, params.Epsilon)
	}

	result := Retrieve(testGraph(), []string{"turbine assembly"}, 10, params)
	if !result.Converged {
		t.Fatalf("expected convergence, stopped after %d iterations", result.Iterations)
	}
	if result.Iterations >= params.MaxIterations {
		t.Errorf("converged only at the iteration cap (%d), no margin", result.Iterations)
	}
}

func TestSeedExpansionCascade(t *testing.T) {
	g := testGraph()
	tests := []struct {
		name  string
		term  string
		seeds []string
	}{
		{name: "exact case-insensitive", term: "GEARBOX", seeds: []string{"ent-b"}},
		{name: "substring", term: "blade", seeds: []string{"ent-c"}},
		{name: "jaccard token overlap", term: "report inspection", seeds: []string{"ent-y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Retrieve(g, []string{tt.term}, 10, DefaultParams())
			if !reflect.DeepEqual(result.SeedIDs, tt.seeds) {
				t.Errorf("seeds = %v, want %v", result.SeedIDs, tt.seeds)
			}
		})
	}
}

func TestDegreeFallbackFlagged(t *testing.T) {
	g := testGraph()
	result := Retrieve(g, []string{"no such entity anywhere"}, 3, DefaultParams())

	if !result.DegreeFallback {
		t.Fatal("expected degree fallback for unmatched seeds")
	}
	if len(result.SeedIDs) != 0 {
		t.Errorf("fallback result carries seed ids: %v", result.SeedIDs)
	}
	if len(result.Matches) != 3 {
		t.Fatalf("expected 3 fallback matches, got %d", len(result.Matches))
	}
	if result.Matches[0].Entity.ID != "ent-a" {
		t.Errorf("expected highest-degree entity first, got %s", result.Matches[0].Entity.ID)
	}
}

func TestDegreeFallbackDisabled(t *testing.T) {
	g := testGraph()
	params := DefaultParams()
	params.DegreeFallback = false

	result := Retrieve(g, []string{"no such entity"}, 5, params)
	if result.DegreeFallback {
		t.Error("fallback flag set despite being disabled")
	}
	if len(result.Matches) != 0 {
		t.Errorf("expected empty matches, got %d", len(result.Matches))
	}
}

func TestEmptyGraph(t *testing.T) {
	g := NewGraph(nil, nil)
	result := Retrieve(g, []string{"anything"}, 5, DefaultParams())
	if len(result.Matches) != 0 {
		t.Errorf("expected no matches on empty graph, got %d", len(result.Matches))
	}
}

func TestDuplicateEdgesNotDoubleCounted(t *testing.T) {
	entities := []common.Entity{
		{ID: "ent-a", Name: "Alpha"},
		{ID: "ent-b", Name: "Beta"},
	}
	once := NewGraph(entities, []common.EntityEdge{
		{SourceID: "ent-a", TargetID: "ent-b", Weight: 1},
	})
	duped := NewGraph(entities, []common.EntityEdge{
		{SourceID: "ent-a", TargetID: "ent-b", Weight: 1},
		{SourceID: "ent-b", TargetID: "ent-a", Weight: 1},
		{SourceID: "ent-a", TargetID: "ent-b", Weight: 1},
	})

	a := Retrieve(once, []string{"alpha"}, 5, DefaultParams())
	b := Retrieve(duped, []string{"alpha"}, 5, DefaultParams())
	if !reflect.DeepEqual(a.Matches, b.Matches) {
		t.Errorf("duplicate edges changed scores:\nonce:  %+v\nduped: %+v", a.Matches, b.Matches)
	}
}
