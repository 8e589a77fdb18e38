// Package base implements the three retrieval routes against a graph
// store: local search, global search, and drift multi-hop. One
// BaseQueryClient is bound to one tenant.
package base

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"lattice/internal/util"
	"lattice/pkg/ai"
	"lattice/pkg/common"
	"lattice/pkg/logger"
	"lattice/pkg/query"
	"lattice/pkg/retrieval"
	"lattice/pkg/retrieval/ppr"
	"lattice/pkg/store"
)

// maxAIRetries bounds retries of structured-output calls whose failures
// are tolerated per item rather than failing the request.
const maxAIRetries = 2

// aiBackoffInitial is the first retry delay for transient provider I/O.
// Subsequent attempts double it.
const aiBackoffInitial = 200 * time.Millisecond

type queryOptions struct {
	SystemPrompts      []string
	Model              string
	TopK               int
	CommunityTopN      int
	ClaimsPerCommunity int
	SentenceTopR       int
	MaxSubQuestions    int
	MaxHops            int
	BeamWidth          int
	MapConcurrency     int
	ContextTokenBudget int
	PPRParams          ppr.Params
	Tracer             query.Tracer
}

func defaultOptions() queryOptions {
	return queryOptions{
		TopK:               10,
		CommunityTopN:      10,
		ClaimsPerCommunity: 5,
		SentenceTopR:       15,
		MaxSubQuestions:    5,
		MaxHops:            3,
		BeamWidth:          8,
		MapConcurrency:     4,
		ContextTokenBudget: 8000,
		PPRParams:          ppr.DefaultParams(),
	}
}

// QueryOption is a functional option for configuring query behavior.
type QueryOption func(*queryOptions)

// WithSystemPrompts returns a QueryOption that appends additional system
// prompts to guide the AI's response generation.
func WithSystemPrompts(prompts ...string) QueryOption {
	return func(o *queryOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithModel returns a QueryOption that specifies which AI model to use
// for generating responses.
func WithModel(model string) QueryOption {
	return func(o *queryOptions) {
		o.Model = model
	}
}

// WithTopK returns a QueryOption that sets how many fused evidence items
// feed synthesis on the local route.
func WithTopK(k int) QueryOption {
	return func(o *queryOptions) {
		if k > 0 {
			o.TopK = k
		}
	}
}

// WithCommunityTopN returns a QueryOption that sets how many communities
// the global route selects for claim extraction.
func WithCommunityTopN(n int) QueryOption {
	return func(o *queryOptions) {
		if n > 0 {
			o.CommunityTopN = n
		}
	}
}

// WithSentenceTopR returns a QueryOption that sets how many reranked
// sentences the global route keeps as verbatim evidence.
func WithSentenceTopR(r int) QueryOption {
	return func(o *queryOptions) {
		if r > 0 {
			o.SentenceTopR = r
		}
	}
}

// WithMaxHops returns a QueryOption that caps drift traversal depth.
func WithMaxHops(hops int) QueryOption {
	return func(o *queryOptions) {
		if hops > 0 {
			o.MaxHops = hops
		}
	}
}

// WithBeamWidth returns a QueryOption that sets the drift frontier size
// per hop.
func WithBeamWidth(w int) QueryOption {
	return func(o *queryOptions) {
		if w > 0 {
			o.BeamWidth = w
		}
	}
}

// WithMapConcurrency returns a QueryOption that caps concurrent claim
// extraction calls in the global route.
func WithMapConcurrency(n int) QueryOption {
	return func(o *queryOptions) {
		if n > 0 {
			o.MapConcurrency = n
		}
	}
}

// WithContextTokenBudget returns a QueryOption that caps the token count
// of evidence supplied to synthesis prompts.
func WithContextTokenBudget(tokens int) QueryOption {
	return func(o *queryOptions) {
		if tokens > 0 {
			o.ContextTokenBudget = tokens
		}
	}
}

// WithPPRParams returns a QueryOption that overrides graph traversal
// parameters for the drift route.
func WithPPRParams(params ppr.Params) QueryOption {
	return func(o *queryOptions) {
		o.PPRParams = params
	}
}

// WithTracer returns a QueryOption that attaches a tracer recording what
// data each query run considered and used.
func WithTracer(t query.Tracer) QueryOption {
	return func(o *queryOptions) {
		o.Tracer = t
	}
}

// BaseQueryClient answers queries for a single tenant by combining an AI
// client for reasoning with the graph store for retrieval. The graph is
// read-only from here; nothing in query serving mutates it.
type BaseQueryClient struct {
	aiClient ai.GraphAIClient
	reader   store.GraphReader
	vector   *retrieval.VectorSearcher
	lexical  *retrieval.LexicalProvider
	reranker retrieval.Reranker
	fusion   *retrieval.RRFFusion
	tenantID string
	options  queryOptions
}

// NewGraphQueryClient creates a query client bound to one tenant.
//
// Example:
//
//	client := base.NewGraphQueryClient(aiClient, reader, lexical, reranker, tenantID)
func NewGraphQueryClient(
	aiC ai.GraphAIClient,
	reader store.GraphReader,
	lexical *retrieval.LexicalProvider,
	reranker retrieval.Reranker,
	tenantID string,
	opts ...QueryOption,
) *BaseQueryClient {
	c := BaseQueryClient{
		aiClient: aiC,
		reader:   reader,
		vector:   retrieval.NewVectorSearcher(aiC, reader),
		lexical:  lexical,
		reranker: reranker,
		fusion:   retrieval.NewRRFFusion(),
		tenantID: tenantID,
		options:  defaultOptions(),
	}

	for _, o := range opts {
		o(&c.options)
	}

	return &c
}

var _ query.GraphQueryClient = (*BaseQueryClient)(nil)

func (c *BaseQueryClient) generateOpts() []ai.GenerateOption {
	opts := []ai.GenerateOption{}
	if len(c.options.SystemPrompts) > 0 {
		opts = append(opts, ai.WithSystemPrompts(c.options.SystemPrompts...))
	}
	if c.options.Model != "" {
		opts = append(opts, ai.WithModel(c.options.Model))
	}
	return opts
}

// complete calls the completion endpoint with bounded backoff. Provider
// failures here are transient I/O; anything configuration-class fails
// before a prompt is ever built.
func (c *BaseQueryClient) complete(ctx context.Context, prompt string) (string, error) {
	return util.RetryWithBackoff(ctx, maxAIRetries, aiBackoffInitial, func(ctx context.Context) (string, error) {
		return c.aiClient.GenerateCompletion(ctx, prompt, c.generateOpts()...)
	})
}

// embedQuery embeds query text with the same backoff policy as complete.
func (c *BaseQueryClient) embedQuery(ctx context.Context, q string) ([]float32, error) {
	return util.RetryWithBackoff(ctx, maxAIRetries, aiBackoffInitial, func(ctx context.Context) ([]float32, error) {
		return c.aiClient.GenerateEmbedding(ctx, []byte(q))
	})
}

// generateNoDataResponse generates a response in the user's language when no
// relevant evidence is found in the knowledge graph.
func (c *BaseQueryClient) generateNoDataResponse(ctx context.Context, q string) (string, error) {
	prompt := fmt.Sprintf(ai.NoDataPrompt, q)
	res, err := c.complete(ctx, prompt)
	if err != nil {
		logger.Error("Failed to generate no data response", "err", err)
		return "There was a server error, please try again later.", err
	}

	return res, nil
}

func (c *BaseQueryClient) noDataAnswer(ctx context.Context, q string, route query.Route, latencies map[string]int64) (*query.Answer, error) {
	text, _ := c.generateNoDataResponse(ctx, q)
	return &query.Answer{
		Text:             text,
		Citations:        []common.Citation{},
		Route:            route,
		StageLatenciesMs: latencies,
	}, nil
}

// groundAnswer resolves an answer's citation markers against the evidence
// that fed synthesis. Invented ids are dropped and logged, never surfaced.
func (c *BaseQueryClient) groundAnswer(text string, evidence []common.Evidence) (string, []common.Citation) {
	citations, dropped := query.GroundCitations(text, evidence)
	if len(dropped) > 0 {
		logger.Warn("Dropped citations not present in evidence",
			"tenant", c.tenantID, "ids", strings.Join(dropped, ","))
	}
	if citations == nil {
		citations = []common.Citation{}
	}

	used := make([]string, 0, len(citations))
	for _, id := range query.ParseCitationMarkers(text) {
		for _, e := range evidence {
			if e.ID == id {
				used = append(used, id)
				break
			}
		}
	}
	query.RecordUsedEvidenceIDs(c.options.Tracer, used...)

	return text, citations
}

// formatEvidenceLines renders evidence as "<text> [[id]]" lines, stopping
// when the token budget is exhausted so synthesis prompts stay within the
// model's context window.
func (c *BaseQueryClient) formatEvidenceLines(evidence []common.Evidence, prefixHop bool) string {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		enc = nil
	}

	var b strings.Builder
	budget := c.options.ContextTokenBudget
	for _, e := range evidence {
		var line string
		if prefixHop {
			line = fmt.Sprintf("hop %d: %s [[%s]]\n", e.Hop, e.Text, e.ID)
		} else {
			line = fmt.Sprintf("%s [[%s]]\n", e.Text, e.ID)
		}
		if enc != nil {
			cost := len(enc.Encode(line, nil, nil))
			if cost > budget {
				break
			}
			budget -= cost
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}

// sentencesToEvidence converts stored sentences to evidence items carrying
// the score of the retrieval stage that surfaced them.
func sentencesToEvidence(sentences []common.Sentence, scores map[string]float64) []common.Evidence {
	out := make([]common.Evidence, 0, len(sentences))
	for _, s := range sentences {
		out = append(out, common.Evidence{
			ID:         s.ID,
			Kind:       common.EvidenceSentence,
			Text:       s.Text,
			DocumentID: s.DocumentID,
			Page:       s.Page,
			Score:      scores[s.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
