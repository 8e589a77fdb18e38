package query

import (
	"context"
	"fmt"

	"lattice/pkg/common"
)

// Route identifies one of the retrieval strategies. It is a closed set;
// every switch over Route must handle all three values and fail on anything
// else.
type Route string

const (
	RouteLocalSearch   Route = "local_search"
	RouteGlobalSearch  Route = "global_search"
	RouteDriftMultiHop Route = "drift_multi_hop"
)

// ParseRoute validates a route string from an API request or LLM output.
func ParseRoute(s string) (Route, error) {
	switch Route(s) {
	case RouteLocalSearch, RouteGlobalSearch, RouteDriftMultiHop:
		return Route(s), nil
	}
	return "", fmt.Errorf("unknown route %q", s)
}

// Answer is the result of one query run: the synthesized text, the
// citations grounding it, the evidence it was built from, and per-stage
// latencies for observability.
type Answer struct {
	Text             string            `json:"answer"`
	Citations        []common.Citation `json:"citations"`
	Evidence         []common.Evidence `json:"-"`
	Route            Route             `json:"route_used"`
	StageLatenciesMs map[string]int64  `json:"stage_latencies_ms"`
}

// GraphQueryClient defines the interface for querying a tenant's knowledge
// graph. Each method implements one retrieval route; the router decides
// which one a request takes.
type GraphQueryClient interface {
	QueryLocal(ctx context.Context, query string) (*Answer, error)
	QueryGlobal(ctx context.Context, query string) (*Answer, error)
	QueryDrift(ctx context.Context, query string) (*Answer, error)
}
