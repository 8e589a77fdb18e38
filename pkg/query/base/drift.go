package base

import (
	"context"
	"fmt"
	"strings"

	"lattice/internal/timing"
	"lattice/internal/util"
	"lattice/pkg/ai"
	"lattice/pkg/common"
	"lattice/pkg/logger"
	"lattice/pkg/query"
	"lattice/pkg/retrieval"
	"lattice/pkg/retrieval/ppr"
	"lattice/pkg/store"
)

type decomposition struct {
	SubQuestions []string `json:"sub_questions"`
	SeedTerms    []string `json:"seed_terms"`
}

// QueryDrift answers a comparative or multi-hop question. The question is
// decomposed into ordered sub-questions; each hop runs personalized
// PageRank from the entities surfaced so far alongside vector retrieval
// for the current sub-question, and the consolidated evidence feeds a
// final comparative synthesis with a per-hop citation chain.
//
// Traversal terminates when a hop contributes no new evidence, when the
// sub-questions are exhausted, or at the hop cap.
func (c *BaseQueryClient) QueryDrift(
	ctx context.Context,
	q string,
) (*query.Answer, error) {
	timer := timing.NewStageTimer()

	stopDecompose := timer.Start("decompose")
	dec := c.decompose(ctx, q)
	stopDecompose()
	query.RecordSeedTerms(c.options.Tracer, dec.SeedTerms...)

	graph, err := c.loadGraph(ctx)
	if err != nil {
		return nil, err
	}

	stopHops := timer.Start("hops")
	evidence, err := c.traverse(ctx, graph, dec)
	stopHops()
	if err != nil {
		return nil, err
	}

	if len(evidence) == 0 {
		return c.noDataAnswer(ctx, q, query.RouteDriftMultiHop, timer.Snapshot())
	}
	for _, e := range evidence {
		query.RecordConsideredEvidenceIDs(c.options.Tracer, e.ID)
	}

	stopSynthesis := timer.Start("synthesis")
	prompt := fmt.Sprintf(
		ai.DriftSynthesisPrompt,
		c.formatEvidenceLines(evidence, true),
		formatSubQuestions(dec.SubQuestions),
		q,
	)
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
		Route:            query.RouteDriftMultiHop,
		StageLatenciesMs: timer.Snapshot(),
	}, nil
}

// decompose asks the model for ordered sub-questions and seed terms. A
// failed decomposition degrades to a single hop over the original
// question rather than failing the request.
func (c *BaseQueryClient) decompose(ctx context.Context, q string) decomposition {
	var dec decomposition
	err := util.RetryErrWithContext(ctx, maxAIRetries, func(ctx context.Context) error {
		return c.aiClient.GenerateCompletionWithFormat(
			ctx,
			"query_decomposition",
			"Sub-questions and seed terms for iterative retrieval",
			fmt.Sprintf(ai.DecomposePrompt, q, c.options.MaxSubQuestions),
			&dec,
			c.generateOpts()...,
		)
	})
	if err != nil {
		logger.Warn("Query decomposition failed, traversing with original question",
			"tenant", c.tenantID, "err", err)
		query.RecordStageFailure(c.options.Tracer, "decompose", err)
		return decomposition{SubQuestions: []string{q}}
	}
	if len(dec.SubQuestions) == 0 {
		dec.SubQuestions = []string{q}
	}
	if len(dec.SubQuestions) > c.options.MaxSubQuestions {
		dec.SubQuestions = dec.SubQuestions[:c.options.MaxSubQuestions]
	}
	return dec
}

func (c *BaseQueryClient) loadGraph(ctx context.Context) (*ppr.Graph, error) {
	entities, err := c.reader.ListEntities(ctx, c.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	edges, err := c.reader.EntityEdges(ctx, c.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity edges: %w", err)
	}
	return ppr.NewGraph(entities, edges), nil
}

// traverse runs the hop loop: PPR from the current frontier plus vector
// retrieval for the hop's sub-question, consolidated into a deduplicated
// evidence set tagged with hop numbers.
func (c *BaseQueryClient) traverse(
	ctx context.Context,
	graph *ppr.Graph,
	dec decomposition,
) ([]common.Evidence, error) {
	seeds := append([]string{}, dec.SeedTerms...)
	seenEvidence := make(map[string]bool)
	seenSeeds := make(map[string]bool)
	for _, s := range seeds {
		seenSeeds[strings.ToLower(s)] = true
	}

	var evidence []common.Evidence

	hops := len(dec.SubQuestions)
	if hops > c.options.MaxHops {
		hops = c.options.MaxHops
	}

	for hop := 1; hop <= hops; hop++ {
		sub := dec.SubQuestions[hop-1]

		pprResult := ppr.Retrieve(graph, seeds, c.options.BeamWidth, c.options.PPRParams)
		if pprResult.DegreeFallback {
			logger.Warn("Graph traversal fell back to degree ordering",
				"tenant", c.tenantID, "hop", hop)
			query.RecordStageFailure(c.options.Tracer, "ppr",
				fmt.Errorf("hop %d: no seed matched, degree fallback", hop))
		}

		entityIDs := make([]string, 0, len(pprResult.Matches))
		for _, m := range pprResult.Matches {
			entityIDs = append(entityIDs, m.Entity.ID)
		}
		query.RecordQueriedEntityIDs(c.options.Tracer, entityIDs...)

		hopSentences, err := c.hopSentences(ctx, sub, entityIDs)
		if err != nil {
			return nil, err
		}

		added := 0
		for _, e := range hopSentences {
			if seenEvidence[e.ID] {
				continue
			}
			seenEvidence[e.ID] = true
			e.Hop = hop
			evidence = append(evidence, e)
			added++
		}

		// Widen the frontier with the entities this hop surfaced; the
		// beam width caps how far it can grow per hop.
		widened := 0
		for _, m := range pprResult.Matches {
			key := strings.ToLower(m.Entity.Name)
			if seenSeeds[key] || widened >= c.options.BeamWidth {
				continue
			}
			seenSeeds[key] = true
			seeds = append(seeds, m.Entity.Name)
			widened++
		}

		if added == 0 {
			break
		}
	}

	return evidence, nil
}

// hopSentences gathers textual evidence for one hop: sentences mentioning
// the traversed entities plus vector hits for the sub-question, denoised.
func (c *BaseQueryClient) hopSentences(
	ctx context.Context,
	sub string,
	entityIDs []string,
) ([]common.Evidence, error) {
	limit := c.options.BeamWidth * 2

	var sentences []common.Sentence
	scores := make(map[string]float64)

	if len(entityIDs) > 0 {
		mentioned, err := c.reader.EntitySentences(ctx, c.tenantID, entityIDs, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity sentences: %w", err)
		}
		sentences = append(sentences, mentioned...)
	}

	ranked, err := c.vector.Search(ctx, c.tenantID, store.IndexSentences, sub, limit)
	if err != nil {
		return nil, err
	}
	if len(ranked) > 0 {
		ids := make([]string, 0, len(ranked))
		for _, r := range ranked {
			ids = append(ids, r.ID)
			scores[r.ID] = r.Score
		}
		hits, err := c.reader.GetSentences(ctx, c.tenantID, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load sentences: %w", err)
		}
		sentences = append(sentences, hits...)
	}

	seen := make(map[string]bool, len(sentences))
	candidates := make([]retrieval.Candidate, 0, len(sentences))
	byID := make(map[string]common.Sentence, len(sentences))
	for _, s := range sentences {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		byID[s.ID] = s
		candidates = append(candidates, retrieval.Candidate{ID: s.ID, Text: s.Text})
	}
	candidates = retrieval.DenoiseSentences(candidates)

	keep := make([]common.Sentence, 0, len(candidates))
	for _, cand := range candidates {
		s := byID[cand.ID]
		s.Text = cand.Text
		keep = append(keep, s)
	}
	return sentencesToEvidence(keep, scores), nil
}

func formatSubQuestions(subs []string) string {
	var b strings.Builder
	for i, s := range subs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return strings.TrimRight(b.String(), "\n")
}
