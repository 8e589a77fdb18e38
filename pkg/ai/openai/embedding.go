package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lattice/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. The returned vector always has the
// declared dimension; the all-zero vector is returned for empty input.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.embeddingDim), nil
	}

	body := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(string(input)),
		},
		Dimensions: openai.Int(int64(c.embeddingDim)),
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(ctx, body)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start).Milliseconds()

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  duration,
	})

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(response.Data))
	}

	raw := response.Data[0].Embedding
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
