package base

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"lattice/pkg/ai"
	"lattice/pkg/common"
	"lattice/pkg/retrieval"
	"lattice/pkg/store"
)

// scriptedAI drives the query routes from tests: embeddings come from a
// lookup table keyed by input text, structured outputs from per-schema
// JSON scripts, and completions echo the evidence ids they were given so
// grounding can be asserted.
type scriptedAI struct {
	embeddings map[string][]float32
	structured map[string]string // schema name -> JSON
	completion func(prompt string) (string, error)

	mu      sync.Mutex
	prompts map[string][]string // schema name -> prompts received
}

// promptsFor returns the structured-output prompts recorded for a schema.
func (s *scriptedAI) promptsFor(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[name]...)
}

func (s *scriptedAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	if s.completion != nil {
		return s.completion(prompt)
	}
	return "no script", nil
}

func (s *scriptedAI) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	s.mu.Lock()
	if s.prompts == nil {
		s.prompts = make(map[string][]string)
	}
	s.prompts[name] = append(s.prompts[name], prompt)
	s.mu.Unlock()
	return json.Unmarshal([]byte(s.structured[name]), out)
}

func (s *scriptedAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if e, ok := s.embeddings[string(input)]; ok {
		return e, nil
	}
	return []float32{1, 0, 0}, nil
}

func (s *scriptedAI) EmbeddingDimension() int     { return 3 }
func (s *scriptedAI) ResetMetrics()               {}
func (s *scriptedAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

var _ ai.GraphAIClient = (*scriptedAI)(nil)

// memReader is an in-memory GraphReader over fixture data. Vector search
// scores stored embeddings by cosine similarity, mirroring the pgvector
// implementation.
type memReader struct {
	chunks      []common.Chunk
	sentences   []common.Sentence
	entities    []common.Entity
	edges       []common.EntityEdge
	communities []common.Community
	mentions    map[string][]string // entity id -> sentence ids
	profile     string
}

func (m *memReader) IndexDimension(ctx context.Context, tenantID string, index store.VectorIndex) (int, error) {
	return 3, nil
}

func (m *memReader) ActiveIndexVersion(ctx context.Context, tenantID string) (string, error) {
	return "v1", nil
}

func (m *memReader) SearchVector(ctx context.Context, tenantID string, index store.VectorIndex, embedding []float32, topK int) ([]store.VectorMatch, error) {
	var matches []store.VectorMatch
	if index == store.IndexSentences {
		for _, s := range m.sentences {
			matches = append(matches, store.VectorMatch{ID: s.ID, Score: cosineSimilarity(embedding, s.Embedding)})
		}
	}
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Score > matches[i].Score {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *memReader) GetSentences(ctx context.Context, tenantID string, ids []string) ([]common.Sentence, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []common.Sentence
	for _, s := range m.sentences {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memReader) GetChunks(ctx context.Context, tenantID string, ids []string) ([]common.Chunk, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []common.Chunk
	for _, c := range m.chunks {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memReader) ListChunks(ctx context.Context, tenantID string) ([]common.Chunk, error) {
	return m.chunks, nil
}

func (m *memReader) ListCommunities(ctx context.Context, tenantID string) ([]common.Community, error) {
	return m.communities, nil
}

func (m *memReader) CommunityEntities(ctx context.Context, tenantID string, communityID string) ([]common.Entity, error) {
	var out []common.Entity
	for _, e := range m.entities {
		if e.CommunityID == communityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memReader) ListEntities(ctx context.Context, tenantID string) ([]common.Entity, error) {
	return m.entities, nil
}

func (m *memReader) EntityEdges(ctx context.Context, tenantID string) ([]common.EntityEdge, error) {
	return m.edges, nil
}

func (m *memReader) EntitySentences(ctx context.Context, tenantID string, entityIDs []string, limit int) ([]common.Sentence, error) {
	want := make(map[string]bool)
	for _, id := range entityIDs {
		for _, sid := range m.mentions[id] {
			want[sid] = true
		}
	}
	var out []common.Sentence
	for _, s := range m.sentences {
		if want[s.ID] && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memReader) TenantProfile(ctx context.Context, tenantID string) (string, error) {
	return m.profile, nil
}

var _ store.GraphReader = (*memReader)(nil)

// orderedReranker scores candidates by their position, best first.
type orderedReranker struct{}

func (orderedReranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Scored, error) {
	out := make([]retrieval.Scored, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, retrieval.Scored{Candidate: c, Score: 1 - float64(i)*0.01})
	}
	return out, nil
}

type failingReranker struct{}

func (failingReranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Scored, error) {
	return nil, retrieval.ErrRerankUnavailable
}

// echoCompletion returns an answer citing every id found in the prompt's
// [[id]] markers, plus any extra ids the test wants injected.
func echoCompletion(extra ...string) func(prompt string) (string, error) {
	return func(prompt string) (string, error) {
		var b strings.Builder
		b.WriteString("Synthesized answer.")
		rest := prompt
		for {
			start := strings.Index(rest, "[[")
			if start == -1 {
				break
			}
			end := strings.Index(rest[start:], "]]")
			if end == -1 {
				break
			}
			b.WriteString(" Statement " + rest[start:start+end+2] + ".")
			rest = rest[start+end+2:]
		}
		for _, id := range extra {
			b.WriteString(" Invented [[" + id + "]].")
		}
		return b.String(), nil
	}
}

func newLexical(t *testing.T, reader store.GraphReader) *retrieval.LexicalProvider {
	t.Helper()
	p, err := retrieval.NewLexicalProvider(reader)
	if err != nil {
		t.Fatalf("NewLexicalProvider: %v", err)
	}
	return p
}
