package ollama

import (
	"context"
	"fmt"
	"strings"

	"lattice/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama. The returned vector
// always has the declared dimension; the all-zero vector is returned for
// empty input.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.embeddingDim), nil
	}

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(ctx, req)
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res.Embeddings))
	}

	raw := res.Embeddings[0]
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		out = append(out, float32(v))
	}
	if len(out) != c.embeddingDim {
		return nil, fmt.Errorf(
			"embedding dimension mismatch: model returned %d, declared %d",
			len(out), c.embeddingDim,
		)
	}
	return out, nil
}
