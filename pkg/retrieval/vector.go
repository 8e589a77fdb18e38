package retrieval

import (
	"context"
	"fmt"
	"time"

	"lattice/internal/util"
	"lattice/pkg/ai"
	"lattice/pkg/store"
)

// Embedding calls retry transient provider failures with bounded backoff.
// Dimension mismatches are checked after embedding and never retried.
const (
	embedMaxTries       = 2
	embedBackoffInitial = 200 * time.Millisecond
)

// VectorSearcher embeds query text and searches a named vector index. It
// verifies the query embedding's dimension against the index's declared
// dimension before every search and fails fast on disagreement; a silent
// zero-result fallback would mask a misconfigured model/index pairing.
type VectorSearcher struct {
	aiClient ai.GraphAIClient
	reader   store.GraphReader
}

// NewVectorSearcher creates a VectorSearcher over the given providers.
func NewVectorSearcher(aiClient ai.GraphAIClient, reader store.GraphReader) *VectorSearcher {
	return &VectorSearcher{aiClient: aiClient, reader: reader}
}

// Search embeds the query text and returns the top-K matches from the
// named index as a ranked list.
func (s *VectorSearcher) Search(
	ctx context.Context,
	tenantID string,
	index store.VectorIndex,
	query string,
	topK int,
) ([]Ranked, error) {
	embedding, err := util.RetryWithBackoff(ctx, embedMaxTries, embedBackoffInitial, func(ctx context.Context) ([]float32, error) {
		return s.aiClient.GenerateEmbedding(ctx, []byte(query))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.SearchEmbedding(ctx, tenantID, index, embedding, topK)
}

// SearchEmbedding searches with a precomputed query embedding.
func (s *VectorSearcher) SearchEmbedding(
	ctx context.Context,
	tenantID string,
	index store.VectorIndex,
	embedding []float32,
	topK int,
) ([]Ranked, error) {
	dim, err := s.reader.IndexDimension(ctx, tenantID, index)
	if err != nil {
		return nil, err
	}
	if len(embedding) != dim {
		return nil, fmt.Errorf(
			"%w: query embedding has %d dimensions, index %q declares %d",
			ErrDimensionMismatch, len(embedding), index, dim,
		)
	}

	matches, err := s.reader.SearchVector(ctx, tenantID, index, embedding, topK)
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, 0, len(matches))
	for _, m := range matches {
		ranked = append(ranked, Ranked{ID: m.ID, Score: m.Score})
	}
	return ranked, nil
}
