package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Candidate is one input to the cross-encoder reranker.
type Candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Scored is a reranked candidate with its cross-encoder score.
type Scored struct {
	Candidate
	Score float64 `json:"score"`
}

// Reranker re-scores a candidate set against the query with a
// cross-encoder, sharpening weak vector-similarity separation.
//
// When the reranker service is unavailable, implementations return
// ErrRerankUnavailable and the caller must surface it; silently falling
// back to unranked order is not an option.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
}

// HTTPReranker calls a cross-encoder scoring service over HTTP.
type HTTPReranker struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPReranker creates a reranker client for the given endpoint.
func NewHTTPReranker(baseURL string, model string, timeout time.Duration) *HTTPReranker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReranker{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores candidates against the query and returns them ordered by
// descending score, ties broken by id for determinism.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return []Scored{}, nil
	}

	docs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		docs = append(docs, c.Text)
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: docs,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rerank endpoint returned %d", ErrRerankUnavailable, resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid rerank response: %v", ErrRerankUnavailable, err)
	}

	scored := make([]Scored, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: rerank result index %d out of range", ErrRerankUnavailable, res.Index)
		}
		scored = append(scored, Scored{
			Candidate: candidates[res.Index],
			Score:     res.Score,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	return scored, nil
}
