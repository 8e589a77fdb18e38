package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"lattice/pkg/ai"
	"lattice/pkg/logger"
	"lattice/pkg/store"
)

const routeCacheSize = 512

// RouteDecision explains how a query was routed. Source is one of "llm",
// "heuristic", "override", "forced", or "cache".
type RouteDecision struct {
	Route      Route   `json:"route"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// profileRoutes maps tenant query profiles to the route that profile forces
// unconditionally.
var profileRoutes = map[string]Route{
	"assurance": RouteDriftMultiHop,
}

// Comparative phrasing indicates a multi-hop question; aggregation phrasing
// a thematic one. Checked in that order, anything else is local.
var (
	driftPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwhich\s+(document|file|contract|invoice|report)s?\s+(has|have|had|is|are|was|were)\b`),
		regexp.MustCompile(`(?i)\b(latest|earliest|highest|lowest|largest|smallest|longest|shortest|newest|oldest|most|least)\b.*\b(date|amount|value|term|duration|rate|price)\b`),
		regexp.MustCompile(`(?i)\bcompare\b|\bcomparison\b|\bversus\b|\bvs\.?\b`),
		regexp.MustCompile(`(?i)\b(differ|difference|discrepanc)\w*\b.*\b(between|across|among)\b`),
	}
	globalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(summar|overview|theme|topic|pattern|trend)\w*\b`),
		regexp.MustCompile(`(?i)\b(across|in|over|throughout)\s+(all|every|the)\s+(document|file|contract|report|corpus)`),
		regexp.MustCompile(`(?i)\bwhat\s+(kinds?|types?|categories)\s+of\b`),
		regexp.MustCompile(`(?i)\b(common|recurring|overall|general)\b.*\b(issue|theme|topic|finding|point)s?\b`),
	}
)

type routeClassification struct {
	Route      string  `json:"route"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Router classifies queries into retrieval routes. Classification goes
// through, in priority order: the caller's forced route, the tenant's
// profile override, a cache of previous decisions, the LLM classifier, and
// a keyword heuristic when the LLM is unavailable. Classification never
// hard-fails a request.
type Router struct {
	aiClient ai.GraphAIClient
	reader   store.GraphReader
	cache    *lru.Cache[string, RouteDecision]
}

// NewRouter creates a query router.
func NewRouter(aiClient ai.GraphAIClient, reader store.GraphReader) (*Router, error) {
	cache, err := lru.New[string, RouteDecision](routeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create route cache: %w", err)
	}
	return &Router{aiClient: aiClient, reader: reader, cache: cache}, nil
}

// Classify picks the retrieval route for a query. A non-empty forced route
// wins over everything; a tenant profile override wins over classification.
func (r *Router) Classify(ctx context.Context, query string, tenantID string, forced Route) (RouteDecision, error) {
	if forced != "" {
		if _, err := ParseRoute(string(forced)); err != nil {
			return RouteDecision{}, err
		}
		return RouteDecision{Route: forced, Source: "forced", Confidence: 1}, nil
	}

	profile, err := r.reader.TenantProfile(ctx, tenantID)
	if err != nil {
		return RouteDecision{}, fmt.Errorf("failed to load tenant profile: %w", err)
	}
	if route, ok := profileRoutes[profile]; ok {
		return RouteDecision{
			Route:      route,
			Source:     "override",
			Confidence: 1,
			Reasoning:  fmt.Sprintf("tenant profile %q forces this route", profile),
		}, nil
	}

	key := normalizeQuery(query)
	if cached, ok := r.cache.Get(key); ok {
		cached.Source = "cache"
		return cached, nil
	}

	decision := r.classifyLLM(ctx, query)
	if decision == nil {
		decision = r.classifyHeuristic(query)
	}
	r.cache.Add(key, *decision)
	return *decision, nil
}

// classifyLLM asks the model for a structured route decision. Any failure,
// including an out-of-enum route in the output, returns nil so the
// heuristic takes over.
func (r *Router) classifyLLM(ctx context.Context, query string) *RouteDecision {
	var out routeClassification
	err := r.aiClient.GenerateCompletionWithFormat(
		ctx,
		"route_classification",
		"Retrieval route for a user question",
		fmt.Sprintf(ai.RoutePrompt, query),
		&out,
		ai.WithTemperature(0),
	)
	if err != nil {
		logger.Warn("Route classification via LLM failed, using heuristic", "err", err)
		return nil
	}

	route, err := ParseRoute(out.Route)
	if err != nil {
		logger.Warn("LLM returned unknown route, using heuristic", "route", out.Route)
		return nil
	}

	return &RouteDecision{
		Route:      route,
		Source:     "llm",
		Confidence: out.Confidence,
		Reasoning:  out.Reasoning,
	}
}

func (r *Router) classifyHeuristic(query string) *RouteDecision {
	for _, p := range driftPatterns {
		if p.MatchString(query) {
			return &RouteDecision{
				Route:      RouteDriftMultiHop,
				Source:     "heuristic",
				Confidence: 0.6,
				Reasoning:  "comparative phrasing",
			}
		}
	}
	for _, p := range globalPatterns {
		if p.MatchString(query) {
			return &RouteDecision{
				Route:      RouteGlobalSearch,
				Source:     "heuristic",
				Confidence: 0.6,
				Reasoning:  "aggregation phrasing",
			}
		}
	}
	return &RouteDecision{
		Route:      RouteLocalSearch,
		Source:     "heuristic",
		Confidence: 0.5,
		Reasoning:  "default",
	}
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
