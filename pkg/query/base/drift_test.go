package base

import (
	"context"
	"testing"

	"lattice/pkg/common"
	"lattice/pkg/query"
)

func driftFixture() *memReader {
	return &memReader{
		entities: []common.Entity{
			{ID: "ent-a", Name: "Frame Agreement Alpha", Degree: 2, TenantID: "t1"},
			{ID: "ent-b", Name: "Effective Date", Degree: 2, TenantID: "t1"},
			{ID: "ent-c", Name: "Frame Agreement Beta", Degree: 1, TenantID: "t1"},
		},
		edges: []common.EntityEdge{
			{SourceID: "ent-a", TargetID: "ent-b", Weight: 2},
			{SourceID: "ent-b", TargetID: "ent-c", Weight: 1},
		},
		sentences: []common.Sentence{
			{ID: "s1", ChunkID: "c1", DocumentID: "d1", Page: 1, TenantID: "t1",
				Text: "Frame Agreement Alpha takes effect on 1 March 2024.", Embedding: []float32{1, 0, 0}},
			{ID: "s2", ChunkID: "c2", DocumentID: "d2", Page: 1, TenantID: "t1",
				Text: "Frame Agreement Beta takes effect on 15 June 2024.", Embedding: []float32{0, 1, 0}},
		},
		mentions: map[string][]string{
			"ent-a": {"s1"},
			"ent-c": {"s2"},
			"ent-b": {"s1", "s2"},
		},
	}
}

func driftAI() *scriptedAI {
	return &scriptedAI{
		embeddings: map[string][]float32{
			"When does Frame Agreement Alpha take effect?": {1, 0, 0},
			"When does Frame Agreement Beta take effect?":  {0, 1, 0},
		},
		structured: map[string]string{
			"query_decomposition": `{
				"sub_questions": [
					"When does Frame Agreement Alpha take effect?",
					"When does Frame Agreement Beta take effect?"
				],
				"seed_terms": ["Frame Agreement Alpha", "Frame Agreement Beta"]
			}`,
		},
		completion: echoCompletion(),
	}
}

func TestQueryDriftCollectsEvidenceAcrossHops(t *testing.T) {
	reader := driftFixture()
	trace := query.NewQueryTrace()
	client := NewGraphQueryClient(driftAI(), reader, newLexical(t, reader), orderedReranker{}, "t1",
		WithTracer(trace))

	ans, err := client.QueryDrift(context.Background(), "Which frame agreement has the latest effective date?")
	if err != nil {
		t.Fatalf("QueryDrift: %v", err)
	}

	if ans.Route != query.RouteDriftMultiHop {
		t.Errorf("route = %s", ans.Route)
	}

	seen := make(map[string]int)
	for _, e := range ans.Evidence {
		if e.Hop == 0 {
			t.Errorf("evidence %s missing hop number", e.ID)
		}
		seen[e.ID] = e.Hop
	}
	if _, ok := seen["s1"]; !ok {
		t.Error("evidence for Alpha effective date missing")
	}
	if _, ok := seen["s2"]; !ok {
		t.Error("evidence for Beta effective date missing")
	}

	evidenceIDs := make(map[string]bool)
	for _, e := range ans.Evidence {
		evidenceIDs[e.ID] = true
	}
	if len(ans.Citations) == 0 {
		t.Fatal("expected citations")
	}
	for _, c := range ans.Citations {
		if !evidenceIDs[c.SentenceID] {
			t.Errorf("citation %+v outside the evidence set", c)
		}
	}

	s := trace.Snapshot()
	if len(s.QueriedEntityIDs) == 0 {
		t.Error("no traversed entities recorded")
	}
	if len(s.SeedTerms) != 2 {
		t.Errorf("seed terms = %v", s.SeedTerms)
	}
}

func TestQueryDriftEvidenceDeduplicatedAcrossHops(t *testing.T) {
	reader := driftFixture()
	client := NewGraphQueryClient(driftAI(), reader, newLexical(t, reader), orderedReranker{}, "t1")

	ans, err := client.QueryDrift(context.Background(), "Which frame agreement has the latest effective date?")
	if err != nil {
		t.Fatalf("QueryDrift: %v", err)
	}

	seen := make(map[string]bool)
	for _, e := range ans.Evidence {
		if seen[e.ID] {
			t.Errorf("evidence %s appears twice", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestQueryDriftDecompositionFailureDegradesToSingleHop(t *testing.T) {
	reader := driftFixture()
	aiC := driftAI()
	// No decomposition script: unmarshal of the empty payload fails.
	aiC.structured = map[string]string{}
	trace := query.NewQueryTrace()
	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1",
		WithTracer(trace))

	ans, err := client.QueryDrift(context.Background(), "Which frame agreement has the latest effective date?")
	if err != nil {
		t.Fatalf("QueryDrift: %v", err)
	}
	if ans.Text == "" {
		t.Error("expected an answer despite decomposition failure")
	}

	var recorded bool
	for _, f := range trace.Snapshot().StageFailures {
		if f.Stage == "decompose" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("decomposition failure not recorded on the trace")
	}
}

func TestQueryDriftEmptyGraphReturnsNoData(t *testing.T) {
	reader := &memReader{}
	aiC := driftAI()
	aiC.completion = func(prompt string) (string, error) {
		return "No information is available for this comparison.", nil
	}
	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1")

	ans, err := client.QueryDrift(context.Background(), "Which frame agreement has the latest effective date?")
	if err != nil {
		t.Fatalf("QueryDrift: %v", err)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("no-data answer carries citations: %+v", ans.Citations)
	}
}
