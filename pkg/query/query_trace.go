package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredEvidenceIDs TraceEventKind = "considered_evidence_ids"
	TraceEventUsedEvidenceIDs       TraceEventKind = "used_evidence_ids"
	TraceEventQueriedEntityIDs      TraceEventKind = "queried_entity_ids"
	TraceEventQueriedCommunityIDs   TraceEventKind = "queried_community_ids"
	TraceEventSeedTerms             TraceEventKind = "seed_terms"
	TraceEventRouteDecision         TraceEventKind = "route_decision"
	TraceEventStageFailure          TraceEventKind = "stage_failure"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	EvidenceIDs  []string
	EntityIDs    []string
	CommunityIDs []string
	SeedTerms    []string

	Route      Route
	Source     string
	Confidence float64

	Stage string
	Error string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom
// post-processing pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordConsideredEvidenceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredEvidenceIDs, EvidenceIDs: ids})
}

func RecordUsedEvidenceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedEvidenceIDs, EvidenceIDs: ids})
}

func RecordQueriedEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityIDs, EntityIDs: ids})
}

func RecordQueriedCommunityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedCommunityIDs, CommunityIDs: ids})
}

func RecordSeedTerms(t Tracer, terms ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeedTerms, SeedTerms: terms})
}

func RecordRouteDecision(t Tracer, d RouteDecision) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{
		Kind:       TraceEventRouteDecision,
		Route:      d.Route,
		Source:     d.Source,
		Confidence: d.Confidence,
	})
}

// RecordStageFailure marks a tolerated partial failure. Stages that can
// degrade record here instead of failing the request.
func RecordStageFailure(t Tracer, stage string, err error) {
	if t == nil || err == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStageFailure, Stage: stage, Error: err.Error()})
}

// QueryTrace collects information about what data was considered and/or
// used during a query run, plus the route decision and any tolerated stage
// failures.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	consideredEvidenceIDs map[string]struct{}
	usedEvidenceIDs       map[string]struct{}
	queriedEntityIDs      map[string]struct{}
	queriedCommunityIDs   map[string]struct{}
	seedTerms             map[string]struct{}

	routeDecision *RouteDecision
	stageFailures []StageFailure
}

// StageFailure is one tolerated partial failure recorded during a query.
type StageFailure struct {
	Stage string
	Error string
}

type QueryTraceSnapshot struct {
	ConsideredEvidenceIDs []string
	UsedEvidenceIDs       []string
	QueriedEntityIDs      []string
	QueriedCommunityIDs   []string
	SeedTerms             []string
	RouteDecision         *RouteDecision
	StageFailures         []StageFailure
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredEvidenceIDs: make(map[string]struct{}),
		usedEvidenceIDs:       make(map[string]struct{}),
		queriedEntityIDs:      make(map[string]struct{}),
		queriedCommunityIDs:   make(map[string]struct{}),
		seedTerms:             make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredEvidenceIDs:
		addAll(t.consideredEvidenceIDs, event.EvidenceIDs)
	case TraceEventUsedEvidenceIDs:
		addAll(t.usedEvidenceIDs, event.EvidenceIDs)
	case TraceEventQueriedEntityIDs:
		addAll(t.queriedEntityIDs, event.EntityIDs)
	case TraceEventQueriedCommunityIDs:
		addAll(t.queriedCommunityIDs, event.CommunityIDs)
	case TraceEventSeedTerms:
		addAll(t.seedTerms, event.SeedTerms)
	case TraceEventRouteDecision:
		t.routeDecision = &RouteDecision{
			Route:      event.Route,
			Source:     event.Source,
			Confidence: event.Confidence,
		}
	case TraceEventStageFailure:
		t.stageFailures = append(t.stageFailures, StageFailure{
			Stage: event.Stage,
			Error: event.Error,
		})
	default:
		return
	}
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		ConsideredEvidenceIDs: sortedKeys(t.consideredEvidenceIDs),
		UsedEvidenceIDs:       sortedKeys(t.usedEvidenceIDs),
		QueriedEntityIDs:      sortedKeys(t.queriedEntityIDs),
		QueriedCommunityIDs:   sortedKeys(t.queriedCommunityIDs),
		SeedTerms:             sortedKeys(t.seedTerms),
		RouteDecision:         t.routeDecision,
	}
	s.StageFailures = append(s.StageFailures, t.stageFailures...)
	return s
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
