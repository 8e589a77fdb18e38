package base

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lattice/pkg/common"
	"lattice/pkg/query"
)

func localFixture() *memReader {
	return &memReader{
		chunks: []common.Chunk{
			{
				ID: "c1", DocumentID: "d1", DocTitle: "Maintenance Manual", Page: 4, TenantID: "t1",
				Text: "The turbine gearbox requires inspection every six months.",
			},
			{
				ID: "c2", DocumentID: "d2", DocTitle: "Service Contract", Page: 11, TenantID: "t1",
				Text: "Payment is due within thirty days of invoice receipt.",
			},
		},
		sentences: []common.Sentence{
			{ID: "s1", ChunkID: "c1", DocumentID: "d1", Page: 4, TenantID: "t1",
				Text: "The turbine gearbox requires inspection every six months.", Embedding: []float32{1, 0, 0}},
			{ID: "s2", ChunkID: "c2", DocumentID: "d2", Page: 11, TenantID: "t1",
				Text: "Payment is due within thirty days of invoice receipt.", Embedding: []float32{0, 1, 0}},
		},
	}
}

func TestQueryLocalGroundedAnswer(t *testing.T) {
	reader := localFixture()
	aiC := &scriptedAI{
		embeddings: map[string][]float32{
			"How often must the gearbox be inspected?": {1, 0, 0},
		},
		completion: echoCompletion(),
	}
	trace := query.NewQueryTrace()
	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1",
		WithTopK(2), WithTracer(trace))

	ans, err := client.QueryLocal(context.Background(), "How often must the gearbox be inspected?")
	if err != nil {
		t.Fatalf("QueryLocal: %v", err)
	}

	if ans.Route != query.RouteLocalSearch {
		t.Errorf("route = %s", ans.Route)
	}
	if len(ans.Evidence) == 0 || ans.Evidence[0].ID != "c1" {
		t.Fatalf("expected c1 as top evidence, got %+v", ans.Evidence)
	}
	if len(ans.Citations) == 0 {
		t.Fatal("expected citations")
	}
	evidenceIDs := make(map[string]bool)
	for _, e := range ans.Evidence {
		evidenceIDs[e.ID] = true
	}
	for _, c := range ans.Citations {
		if !evidenceIDs[c.ChunkID] {
			t.Errorf("citation %+v outside the evidence set", c)
		}
	}
	if ans.Citations[0].DocumentID != "d1" || ans.Citations[0].Page != 4 {
		t.Errorf("citation provenance = %+v", ans.Citations[0])
	}
	if _, ok := ans.StageLatenciesMs["retrieval"]; !ok {
		t.Error("missing retrieval stage latency")
	}
	if _, ok := ans.StageLatenciesMs["synthesis"]; !ok {
		t.Error("missing synthesis stage latency")
	}
}

// brokenChunkReader fails chunk listing, which takes the lexical index
// down with it.
type brokenChunkReader struct {
	*memReader
}

func (r *brokenChunkReader) ListChunks(ctx context.Context, tenantID string) ([]common.Chunk, error) {
	return nil, errors.New("chunk listing unavailable")
}

// Losing the lexical stage degrades local search to vector-only. The
// request still returns a grounded answer and the trace records the loss.
func TestQueryLocalLexicalOutageDegradesToVectorOnly(t *testing.T) {
	reader := &brokenChunkReader{memReader: localFixture()}
	aiC := &scriptedAI{
		embeddings: map[string][]float32{
			"How often must the gearbox be inspected?": {1, 0, 0},
		},
		completion: echoCompletion(),
	}
	trace := query.NewQueryTrace()
	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1",
		WithTopK(2), WithTracer(trace))

	ans, err := client.QueryLocal(context.Background(), "How often must the gearbox be inspected?")
	if err != nil {
		t.Fatalf("QueryLocal: %v", err)
	}

	if len(ans.Evidence) == 0 || ans.Evidence[0].ID != "c1" {
		t.Fatalf("expected vector-only evidence led by c1, got %+v", ans.Evidence)
	}
	if len(ans.Citations) == 0 {
		t.Error("expected a grounded answer despite the lexical outage")
	}

	s := trace.Snapshot()
	found := false
	for _, f := range s.StageFailures {
		if f.Stage == "lexical" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a lexical stage failure on the trace, got %+v", s.StageFailures)
	}
}

// A single transient completion failure is retried with backoff instead
// of failing the request.
func TestQueryLocalRetriesTransientCompletionFailure(t *testing.T) {
	reader := localFixture()
	echo := echoCompletion()
	calls := 0
	aiC := &scriptedAI{
		embeddings: map[string][]float32{
			"How often must the gearbox be inspected?": {1, 0, 0},
		},
		completion: func(prompt string) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("upstream timeout")
			}
			return echo(prompt)
		},
	}
	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1",
		WithTopK(2))

	ans, err := client.QueryLocal(context.Background(), "How often must the gearbox be inspected?")
	if err != nil {
		t.Fatalf("QueryLocal: %v", err)
	}
	if calls != 2 {
		t.Errorf("completion calls = %d, want 2", calls)
	}
	if len(ans.Citations) == 0 {
		t.Error("expected a grounded answer after the retry")
	}
}

func TestQueryLocalNoEvidenceReturnsNoData(t *testing.T) {
	reader := &memReader{}
	aiC := &scriptedAI{
		completion: func(prompt string) (string, error) {
			if !strings.Contains(prompt, "no relevant information was found") {
				t.Errorf("expected no-data prompt, got %q", prompt)
			}
			return "No information on this is available in the knowledge base.", nil
		},
	}
	client := NewGraphQueryClient(aiC, reader, newLexical(t, reader), orderedReranker{}, "t1")

	ans, err := client.QueryLocal(context.Background(), "What is the torque spec?")
	if err != nil {
		t.Fatalf("QueryLocal: %v", err)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("no-data answer carries citations: %+v", ans.Citations)
	}
	if !strings.Contains(ans.Text, "No information") {
		t.Errorf("unexpected answer text: %q", ans.Text)
	}
}
