package base

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"lattice/internal/timing"
	"lattice/internal/util"
	"lattice/pkg/ai"
	"lattice/pkg/common"
	"lattice/pkg/logger"
	"lattice/pkg/query"
	"lattice/pkg/retrieval"
	"lattice/pkg/store"
)

type extractedClaim struct {
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

type claimExtraction struct {
	Claims []extractedClaim `json:"claims"`
}

// QueryGlobal answers a thematic question over the whole corpus. Community
// summaries are scored against the query embedding exhaustively on every
// request, the top communities go through parallel claim extraction (MAP),
// sentence evidence is retrieved, denoised, and reranked concurrently, and
// a single REDUCE call synthesizes the answer from both evidence sets.
//
// Individual claim-extraction failures are tolerated and recorded; a
// reranker outage is not and fails the request.
func (c *BaseQueryClient) QueryGlobal(
	ctx context.Context,
	q string,
) (*query.Answer, error) {
	timer := timing.NewStageTimer()

	stopScoring := timer.Start("community_scoring")
	embedding, err := c.embedQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	selected, err := c.scoreCommunities(ctx, embedding)
	stopScoring()
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return c.noDataAnswer(ctx, q, query.RouteGlobalSearch, timer.Snapshot())
	}
	for _, com := range selected {
		query.RecordQueriedCommunityIDs(c.options.Tracer, com.ID)
	}

	var claims []common.Evidence
	var sentences []common.Evidence

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stop := timer.Start("map")
		defer stop()
		claims = c.extractClaims(gctx, q, selected)
		return nil
	})
	g.Go(func() error {
		stop := timer.Start("sentence_enrichment")
		defer stop()
		var err error
		sentences, err = c.enrichSentences(gctx, q, embedding)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(claims) == 0 && len(sentences) == 0 {
		return c.noDataAnswer(ctx, q, query.RouteGlobalSearch, timer.Snapshot())
	}

	evidence := append(append([]common.Evidence{}, claims...), sentences...)
	for _, e := range evidence {
		query.RecordConsideredEvidenceIDs(c.options.Tracer, e.ID)
	}

	stopReduce := timer.Start("reduce")
	prompt := fmt.Sprintf(
		ai.ReducePrompt,
		c.formatEvidenceLines(claims, false),
		c.formatEvidenceLines(sentences, false),
		q,
	)
	resp, err := c.complete(ctx, prompt)
	stopReduce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer from AI:\n%w", err)
	}

	text, citations := c.groundAnswer(resp, evidence)

	return &query.Answer{
		Text:             text,
		Citations:        citations,
		Evidence:         evidence,
		Route:            query.RouteGlobalSearch,
		StageLatenciesMs: timer.Snapshot(),
	}, nil
}

type scoredCommunity struct {
	common.Community
	Score float64
}

// scoreCommunities scores every community summary embedding against the
// query embedding and returns the top-N. Scoring is stateless per request;
// there is no precomputed shortlist. When similarity cannot discriminate
// (all scores identical) the communities are ordered by their stored rank
// instead, which is logged as a degraded stage.
func (c *BaseQueryClient) scoreCommunities(
	ctx context.Context,
	embedding []float32,
) ([]scoredCommunity, error) {
	communities, err := c.reader.ListCommunities(ctx, c.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	if len(communities) == 0 {
		return nil, nil
	}

	scored := make([]scoredCommunity, 0, len(communities))
	for _, com := range communities {
		if len(com.SummaryEmbedding) != len(embedding) {
			return nil, fmt.Errorf(
				"%w: query embedding has %d dimensions, community %s summary has %d",
				retrieval.ErrDimensionMismatch, len(embedding), com.ID, len(com.SummaryEmbedding),
			)
		}
		scored = append(scored, scoredCommunity{
			Community: com,
			Score:     cosineSimilarity(embedding, com.SummaryEmbedding),
		})
	}

	if degenerateScores(scored) {
		logger.Warn("Community similarity scores are degenerate, ordering by rank",
			"tenant", c.tenantID, "communities", len(scored))
		query.RecordStageFailure(c.options.Tracer, "community_scoring",
			fmt.Errorf("degenerate similarity scores across %d communities", len(scored)))
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Rank != scored[j].Rank {
				return scored[i].Rank > scored[j].Rank
			}
			return scored[i].ID < scored[j].ID
		})
	} else {
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Score != scored[j].Score {
				return scored[i].Score > scored[j].Score
			}
			return scored[i].ID < scored[j].ID
		})
	}

	if len(scored) > c.options.CommunityTopN {
		scored = scored[:c.options.CommunityTopN]
	}
	return scored, nil
}

// extractClaims runs one claim-extraction call per community with bounded
// concurrency. A failed community is logged and skipped; the request
// continues with the claims that succeeded.
func (c *BaseQueryClient) extractClaims(
	ctx context.Context,
	q string,
	communities []scoredCommunity,
) []common.Evidence {
	results := make([][]common.Evidence, len(communities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.options.MapConcurrency)
	for i, com := range communities {
		g.Go(func() error {
			// Member entities anchor the summary's claims; losing them
			// degrades the prompt, not the request.
			members, err := c.reader.CommunityEntities(gctx, c.tenantID, com.ID)
			if err != nil {
				logger.Warn("Failed to load community entities for claim extraction",
					"tenant", c.tenantID, "community", com.ID, "err", err)
				query.RecordStageFailure(c.options.Tracer, "map",
					fmt.Errorf("community %s entities: %w", com.ID, err))
			}

			var out claimExtraction
			err = util.RetryErrWithContext(gctx, maxAIRetries, func(ctx context.Context) error {
				return c.aiClient.GenerateCompletionWithFormat(
					ctx,
					"claim_extraction",
					"Claims extracted from a community summary",
					fmt.Sprintf(ai.ClaimExtractionPrompt,
						q, com.Summary, formatEntityNames(members), c.options.ClaimsPerCommunity),
					&out,
					c.generateOpts()...,
				)
			})
			if err != nil {
				logger.Warn("Claim extraction failed for community",
					"tenant", c.tenantID, "community", com.ID, "err", err)
				query.RecordStageFailure(c.options.Tracer, "map",
					fmt.Errorf("community %s: %w", com.ID, err))
				return nil
			}

			claims := out.Claims
			if len(claims) > c.options.ClaimsPerCommunity {
				claims = claims[:c.options.ClaimsPerCommunity]
			}
			evidence := make([]common.Evidence, 0, len(claims))
			for n, claim := range claims {
				if claim.Text == "" {
					continue
				}
				evidence = append(evidence, common.Evidence{
					ID:       fmt.Sprintf("claim-%s-%d", com.ID, n),
					Kind:     common.EvidenceClaim,
					Text:     claim.Text,
					Score:    claim.Relevance,
					SourceID: com.ID,
				})
			}
			results[i] = evidence
			return nil
		})
	}
	g.Wait()

	var all []common.Evidence
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

// enrichSentences retrieves verbatim sentence evidence for the query:
// vector search, denoise, cross-encoder rerank, keep the top-R. The
// reranker is a hard dependency here.
func (c *BaseQueryClient) enrichSentences(
	ctx context.Context,
	q string,
	embedding []float32,
) ([]common.Evidence, error) {
	ranked, err := c.vector.SearchEmbedding(ctx, c.tenantID, store.IndexSentences, embedding, c.options.SentenceTopR*3)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.ID)
	}
	stored, err := c.reader.GetSentences(ctx, c.tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentences: %w", err)
	}

	byID := make(map[string]common.Sentence, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}
	candidates := make([]retrieval.Candidate, 0, len(ranked))
	for _, r := range ranked {
		if s, ok := byID[r.ID]; ok {
			candidates = append(candidates, retrieval.Candidate{ID: s.ID, Text: s.Text})
		}
	}

	candidates = retrieval.DenoiseSentences(candidates)
	if len(candidates) == 0 {
		return nil, nil
	}

	scored, err := c.reranker.Rerank(ctx, q, candidates)
	if err != nil {
		return nil, err
	}
	if len(scored) > c.options.SentenceTopR {
		scored = scored[:c.options.SentenceTopR]
	}

	keep := make([]common.Sentence, 0, len(scored))
	scores := make(map[string]float64, len(scored))
	for _, s := range scored {
		if stored, ok := byID[s.ID]; ok {
			stored.Text = s.Text
			keep = append(keep, stored)
			scores[s.ID] = s.Score
		}
	}
	return sentencesToEvidence(keep, scores), nil
}

// formatEntityNames renders community members as one comma-separated line
// for the extraction prompt.
func formatEntityNames(entities []common.Entity) string {
	if len(entities) == 0 {
		return "(none listed)"
	}
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return strings.Join(names, ", ")
}

func degenerateScores(scored []scoredCommunity) bool {
	for _, s := range scored[1:] {
		if s.Score != scored[0].Score {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
