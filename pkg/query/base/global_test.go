package base

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"lattice/pkg/common"
	"lattice/pkg/query"
	"lattice/pkg/retrieval"
)

func globalFixture() *memReader {
	return &memReader{
		communities: []common.Community{
			{ID: "com-maint", TenantID: "t1", Rank: 2,
				Summary:          "Maintenance obligations recur across the fleet contracts.",
				SummaryEmbedding: []float32{1, 0, 0}},
			{ID: "com-pay", TenantID: "t1", Rank: 3,
				Summary:          "Payment terms vary between thirty and sixty days.",
				SummaryEmbedding: []float32{0, 1, 0}},
			{ID: "com-liab", TenantID: "t1", Rank: 1,
				Summary:          "Liability caps are negotiated per supplier.",
				SummaryEmbedding: []float32{0, 0, 1}},
		},
		entities: []common.Entity{
			{ID: "ent-turbine", Name: "Turbine Assembly", CommunityID: "com-maint", TenantID: "t1"},
			{ID: "ent-gearbox", Name: "Gearbox", CommunityID: "com-maint", TenantID: "t1"},
			{ID: "ent-invoice", Name: "Invoice Terms", CommunityID: "com-pay", TenantID: "t1"},
		},
		sentences: []common.Sentence{
			{ID: "s1", ChunkID: "c1", DocumentID: "d1", Page: 2, TenantID: "t1",
				Text: "Every turbine must be serviced twice per calendar year.", Embedding: []float32{1, 0, 0}},
			{ID: "s2", ChunkID: "c2", DocumentID: "d2", Page: 9, TenantID: "t1",
				Text: "Invoices are payable within sixty days of delivery.", Embedding: []float32{0, 1, 0}},
		},
	}
}

func globalAI(queries map[string][]float32) *scriptedAI {
	return &scriptedAI{
		embeddings: queries,
		structured: map[string]string{
			"claim_extraction": `{"claims":[{"text":"Service is contractually required twice a year","relevance":0.9}]}`,
		},
		completion: echoCompletion(),
	}
}

// Community selection must discriminate between queries. A static top-N,
// whatever its origin, is the regression this test guards against.
func TestQueryGlobalCommunitySelectionDiscriminates(t *testing.T) {
	queries := map[string][]float32{
		"What maintenance themes recur?": {1, 0, 0},
		"What payment terms are common?": {0, 1, 0},
	}

	selections := make(map[string][]string)
	for q := range queries {
		reader := globalFixture()
		trace := query.NewQueryTrace()
		client := NewGraphQueryClient(globalAI(queries), reader, newLexical(t, reader), orderedReranker{}, "t1",
			WithCommunityTopN(1), WithTracer(trace))

		if _, err := client.QueryGlobal(context.Background(), q); err != nil {
			t.Fatalf("QueryGlobal(%q): %v", q, err)
		}
		selections[q] = trace.Snapshot().QueriedCommunityIDs
	}

	maint := selections["What maintenance themes recur?"]
	pay := selections["What payment terms are common?"]
	if !reflect.DeepEqual(maint, []string{"com-maint"}) {
		t.Errorf("maintenance query selected %v", maint)
	}
	if !reflect.DeepEqual(pay, []string{"com-pay"}) {
		t.Errorf("payment query selected %v", pay)
	}
}

// Claim extraction works from the community summary and its member
// entities, not the summary alone.
func TestQueryGlobalClaimPromptIncludesMemberEntities(t *testing.T) {
	reader := globalFixture()
	aiC := globalAI(map[string][]float32{"What maintenance themes recur?": {1, 0, 0}})

	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1",
		WithCommunityTopN(1))
	if _, err := client.QueryGlobal(context.Background(), "What maintenance themes recur?"); err != nil {
		t.Fatalf("QueryGlobal: %v", err)
	}

	prompts := aiC.promptsFor("claim_extraction")
	if len(prompts) != 1 {
		t.Fatalf("expected 1 claim extraction call, got %d", len(prompts))
	}
	for _, name := range []string{"Turbine Assembly", "Gearbox"} {
		if !strings.Contains(prompts[0], name) {
			t.Errorf("extraction prompt missing member entity %q", name)
		}
	}
	if strings.Contains(prompts[0], "Invoice Terms") {
		t.Error("extraction prompt leaked an entity from another community")
	}
}

func TestQueryGlobalGroundingInvariant(t *testing.T) {
	reader := globalFixture()
	aiC := globalAI(map[string][]float32{"What maintenance themes recur?": {1, 0, 0}})
	// The model invents a citation id; it must never surface.
	aiC.completion = echoCompletion("ghost-42")

	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1")
	ans, err := client.QueryGlobal(context.Background(), "What maintenance themes recur?")
	if err != nil {
		t.Fatalf("QueryGlobal: %v", err)
	}

	evidenceIDs := make(map[string]bool)
	for _, e := range ans.Evidence {
		evidenceIDs[e.ID] = true
	}
	if len(ans.Citations) == 0 {
		t.Fatal("expected grounded citations")
	}
	for _, c := range ans.Citations {
		id := c.ChunkID
		if id == "" {
			id = c.SentenceID
		}
		if !evidenceIDs[id] {
			t.Errorf("citation %q not in the supplied evidence set", id)
		}
	}
}

func TestQueryGlobalIncludesSentenceEvidence(t *testing.T) {
	reader := globalFixture()
	client := NewGraphQueryClient(
		globalAI(map[string][]float32{"What maintenance themes recur?": {1, 0, 0}}),
		reader, newLexical(t, reader), orderedReranker{}, "t1",
	)

	ans, err := client.QueryGlobal(context.Background(), "What maintenance themes recur?")
	if err != nil {
		t.Fatalf("QueryGlobal: %v", err)
	}

	var hasClaim, hasSentence bool
	for _, e := range ans.Evidence {
		switch e.Kind {
		case common.EvidenceClaim:
			hasClaim = true
			if e.SourceID == "" {
				t.Error("claim evidence missing source community")
			}
		case common.EvidenceSentence:
			hasSentence = true
		}
	}
	if !hasClaim || !hasSentence {
		t.Errorf("expected both claim and sentence evidence, got claim=%v sentence=%v", hasClaim, hasSentence)
	}
}

func TestQueryGlobalRerankerOutageFailsRequest(t *testing.T) {
	reader := globalFixture()
	client := NewGraphQueryClient(
		globalAI(map[string][]float32{"What maintenance themes recur?": {1, 0, 0}}),
		reader, newLexical(t, reader), failingReranker{}, "t1",
	)

	_, err := client.QueryGlobal(context.Background(), "What maintenance themes recur?")
	if !errors.Is(err, retrieval.ErrRerankUnavailable) {
		t.Errorf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestQueryGlobalDimensionMismatch(t *testing.T) {
	reader := globalFixture()
	aiC := globalAI(map[string][]float32{"What maintenance themes recur?": {1, 0, 0, 0.5}})

	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1")
	_, err := client.QueryGlobal(context.Background(), "What maintenance themes recur?")
	if !errors.Is(err, retrieval.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestQueryGlobalDegenerateScoresFallBackToRank(t *testing.T) {
	reader := globalFixture()
	// Zero query embedding: every community scores exactly zero.
	aiC := globalAI(map[string][]float32{"anything": {0, 0, 0}})

	trace := query.NewQueryTrace()
	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1",
		WithCommunityTopN(1), WithTracer(trace))

	if _, err := client.QueryGlobal(context.Background(), "anything"); err != nil {
		t.Fatalf("QueryGlobal: %v", err)
	}

	s := trace.Snapshot()
	// Highest stored rank wins under the fallback ordering.
	if !reflect.DeepEqual(s.QueriedCommunityIDs, []string{"com-pay"}) {
		t.Errorf("fallback selected %v, want [com-pay]", s.QueriedCommunityIDs)
	}
	var recorded bool
	for _, f := range s.StageFailures {
		if f.Stage == "community_scoring" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("degenerate scoring not recorded as a stage failure")
	}
}
