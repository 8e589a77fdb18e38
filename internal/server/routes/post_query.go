package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"lattice/internal/server/middleware"
	"lattice/internal/timing"
	"lattice/internal/util"
	"lattice/pkg/common"
	"lattice/pkg/logger"
	"lattice/pkg/query"
	"lattice/pkg/query/base"
	"lattice/pkg/store"
)

// QueryTenantHandler answers one query against a tenant's knowledge graph.
// The router picks the retrieval route unless the request forces one.
func QueryTenantHandler(c echo.Context) error {
	type queryBody struct {
		Query        string `json:"query" validate:"required"`
		ForcedRoute  string `json:"forced_route" validate:"omitempty,oneof=local_search global_search drift_multi_hop"`
		ResponseType string `json:"response_type" validate:"omitempty,oneof=markdown plain"`
	}

	type queryResponse struct {
		Answer           string            `json:"answer,omitempty"`
		Citations        []common.Citation `json:"citations,omitempty"`
		RouteUsed        query.Route       `json:"route_used,omitempty"`
		StageLatenciesMs map[string]int64  `json:"stage_latencies_ms,omitempty"`
		Message          string            `json:"message,omitempty"`
		CorrelationID    string            `json:"correlation_id,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{Message: "Invalid request body"})
	}

	cc := c.(*middleware.AppContext)
	user := cc.User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, queryResponse{Message: "Unauthorized"})
	}

	tenantID := c.Param("id")
	if !middleware.TenantAllowed(user, tenantID) {
		return c.JSON(http.StatusForbidden, queryResponse{Message: "Forbidden"})
	}

	ctx := c.Request().Context()
	app := cc.App
	corrID := util.NewCorrelationID()

	timer := timing.NewStageTimer()
	stopRoute := timer.Start("route")
	decision, err := app.Router.Classify(ctx, data.Query, tenantID, query.Route(data.ForcedRoute))
	stopRoute()
	if err != nil {
		logger.Error("Route classification failed", "correlation_id", corrID, "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message:       "Internal server error",
			CorrelationID: corrID,
		})
	}

	trace := query.NewQueryTrace()
	query.RecordRouteDecision(trace, decision)

	var client query.GraphQueryClient = base.NewGraphQueryClient(
		app.AiClient,
		app.Store,
		app.Lexical,
		app.Reranker,
		tenantID,
		base.WithTracer(trace),
	)

	var ans *query.Answer
	switch decision.Route {
	case query.RouteLocalSearch:
		ans, err = client.QueryLocal(ctx, data.Query)
	case query.RouteGlobalSearch:
		ans, err = client.QueryGlobal(ctx, data.Query)
	case query.RouteDriftMultiHop:
		ans, err = client.QueryDrift(ctx, data.Query)
	default:
		logger.Error("Router produced unknown route", "correlation_id", corrID, "route", decision.Route)
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message:       "Internal server error",
			CorrelationID: corrID,
		})
	}
	if err != nil {
		snapshot := trace.Snapshot()
		logger.Error("Query failed",
			"correlation_id", corrID,
			"tenant", tenantID,
			"route", decision.Route,
			"stage_failures", len(snapshot.StageFailures),
			"err", err,
		)
		if errors.Is(err, store.ErrUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, queryResponse{
				Message:       "Graph store unavailable, please retry later",
				CorrelationID: corrID,
			})
		}
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message:       "Internal server error",
			CorrelationID: corrID,
		})
	}

	if data.ResponseType == "plain" {
		ans.Text = query.StripCitationMarkers(ans.Text)
	}

	latencies := ans.StageLatenciesMs
	for stage, ms := range timer.Snapshot() {
		latencies[stage] = ms
	}

	snapshot := trace.Snapshot()
	logger.Info("Query answered",
		"correlation_id", corrID,
		"tenant", tenantID,
		"route", ans.Route,
		"route_source", decision.Source,
		"citations", len(ans.Citations),
		"evidence_considered", len(snapshot.ConsideredEvidenceIDs),
	)

	return c.JSON(http.StatusOK, queryResponse{
		Answer:           ans.Text,
		Citations:        ans.Citations,
		RouteUsed:        ans.Route,
		StageLatenciesMs: latencies,
		CorrelationID:    corrID,
	})
}
