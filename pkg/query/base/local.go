package base

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"lattice/internal/timing"
	"lattice/pkg/ai"
	"lattice/pkg/common"
	"lattice/pkg/logger"
	"lattice/pkg/query"
	"lattice/pkg/retrieval"
	"lattice/pkg/store"
)

// QueryLocal answers a precise, fact-level question. Vector search over
// sentence embeddings and BM25 over the chunk corpus run in parallel, the
// ranked lists are fused with RRF, and the top fused chunks feed synthesis.
// A failed lexical stage degrades to vector-only and is logged; an empty
// evidence set produces an explicit "no data" answer instead of a
// hallucinated one.
func (c *BaseQueryClient) QueryLocal(
	ctx context.Context,
	q string,
) (*query.Answer, error) {
	timer := timing.NewStageTimer()

	stopRetrieval := timer.Start("retrieval")
	version, err := c.reader.ActiveIndexVersion(ctx, c.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active index version: %w", err)
	}

	candidates := c.options.TopK * 3
	var vectorChunks, lexicalChunks []retrieval.Ranked

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ranked, err := c.vector.Search(gctx, c.tenantID, store.IndexSentences, q, candidates)
		if err != nil {
			return err
		}
		vectorChunks, err = c.sentenceRanksToChunks(gctx, ranked)
		return err
	})
	g.Go(func() error {
		idx, err := c.lexical.ForTenant(gctx, c.tenantID, version)
		if err != nil {
			logger.Warn("Lexical index unavailable, degrading to vector-only",
				"tenant", c.tenantID, "err", err)
			query.RecordStageFailure(c.options.Tracer, "lexical", err)
			return nil
		}
		ranked, err := idx.Search(q, candidates)
		if err != nil {
			logger.Warn("Lexical search failed, degrading to vector-only",
				"tenant", c.tenantID, "err", err)
			query.RecordStageFailure(c.options.Tracer, "lexical", err)
			return nil
		}
		lexicalChunks = ranked
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := c.fusion.Fuse(
		retrieval.RankedList{Name: "vector", Items: vectorChunks},
		retrieval.RankedList{Name: "lexical", Items: lexicalChunks},
	)
	if len(fused) > c.options.TopK {
		fused = fused[:c.options.TopK]
	}
	stopRetrieval()

	if len(fused) == 0 {
		return c.noDataAnswer(ctx, q, query.RouteLocalSearch, timer.Snapshot())
	}

	evidence, err := c.fusedToEvidence(ctx, fused)
	if err != nil {
		return nil, err
	}
	for _, e := range evidence {
		query.RecordConsideredEvidenceIDs(c.options.Tracer, e.ID)
	}

	stopSynthesis := timer.Start("synthesis")
	prompt := fmt.Sprintf(ai.LocalAnswerPrompt, c.formatEvidenceLines(evidence, false), q)
	resp, err := c.complete(ctx, prompt)
	stopSynthesis()
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer from AI:\n%w", err)
	}

	text, citations := c.groundAnswer(resp, evidence)

	return &query.Answer{
		Text:             text,
		Citations:        citations,
		Evidence:         evidence,
		Route:            query.RouteLocalSearch,
		StageLatenciesMs: timer.Snapshot(),
	}, nil
}

// sentenceRanksToChunks lifts sentence-level vector hits into the chunk id
// space so they can be fused with the lexical list. Each chunk keeps the
// score of its best sentence; order follows the input ranking.
func (c *BaseQueryClient) sentenceRanksToChunks(
	ctx context.Context,
	ranked []retrieval.Ranked,
) ([]retrieval.Ranked, error) {
	if len(ranked) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(ranked))
	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.ID)
		scores[r.ID] = r.Score
	}

	sentences, err := c.reader.GetSentences(ctx, c.tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentences: %w", err)
	}
	byID := make(map[string]common.Sentence, len(sentences))
	for _, s := range sentences {
		byID[s.ID] = s
	}

	var out []retrieval.Ranked
	seen := make(map[string]bool)
	for _, r := range ranked {
		s, ok := byID[r.ID]
		if !ok || seen[s.ChunkID] {
			continue
		}
		seen[s.ChunkID] = true
		out = append(out, retrieval.Ranked{ID: s.ChunkID, Score: scores[r.ID]})
	}
	return out, nil
}

// fusedToEvidence loads the chunk texts behind fused results, preserving
// fusion order.
func (c *BaseQueryClient) fusedToEvidence(
	ctx context.Context,
	fused []retrieval.FusedResult,
) ([]common.Evidence, error) {
	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		ids = append(ids, f.ID)
	}

	chunks, err := c.reader.GetChunks(ctx, c.tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	byID := make(map[string]common.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	evidence := make([]common.Evidence, 0, len(fused))
	for _, f := range fused {
		ch, ok := byID[f.ID]
		if !ok {
			continue
		}
		evidence = append(evidence, common.Evidence{
			ID:         ch.ID,
			Kind:       common.EvidenceChunk,
			Text:       ch.Text,
			DocumentID: ch.DocumentID,
			DocTitle:   ch.DocTitle,
			Page:       ch.Page,
			Score:      f.RRFScore,
		})
	}
	return evidence, nil
}
