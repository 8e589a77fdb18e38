package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPRerankOrdersByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Documents) != 3 {
			t.Fatalf("expected 3 documents, got %d", len(req.Documents))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 0, "relevance_score": 0.12},
				{"index": 1, "relevance_score": 0.95},
				{"index": 2, "relevance_score": 0.44},
			},
		})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "cross-encoder-v1", time.Second)
	got, err := rr.Rerank(context.Background(), "gearbox maintenance", []Candidate{
		{ID: "s1", Text: "irrelevant"},
		{ID: "s2", Text: "gearbox maintenance interval"},
		{ID: "s3", Text: "somewhat related"},
	})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}

	wantOrder := []string{"s2", "s3", "s1"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestHTTPRerankServerErrorFailsLoud(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "", time.Second)
	_, err := rr.Rerank(context.Background(), "q", []Candidate{{ID: "s1", Text: "text"}})
	if !errors.Is(err, ErrRerankUnavailable) {
		t.Errorf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestHTTPRerankConnectionRefusedFailsLoud(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	rr := NewHTTPReranker(srv.URL, "", time.Second)
	_, err := rr.Rerank(context.Background(), "q", []Candidate{{ID: "s1", Text: "text"}})
	if !errors.Is(err, ErrRerankUnavailable) {
		t.Errorf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestHTTPRerankOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 9, "relevance_score": 0.5}},
		})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "", time.Second)
	_, err := rr.Rerank(context.Background(), "q", []Candidate{{ID: "s1", Text: "text"}})
	if !errors.Is(err, ErrRerankUnavailable) {
		t.Errorf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestHTTPRerankEmptyCandidates(t *testing.T) {
	rr := NewHTTPReranker("http://unused", "", time.Second)
	got, err := rr.Rerank(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}
