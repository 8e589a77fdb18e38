package query

import (
	"strings"

	"lattice/pkg/common"
)

// ParseCitationMarkers extracts the citation ids embedded in an answer as
// [[id]] markers, in order of first appearance. Malformed markers are
// treated as plain text.
func ParseCitationMarkers(answer string) []string {
	var ids []string
	seen := make(map[string]struct{})

	rest := answer
	for {
		start := strings.Index(rest, "[[")
		if start == -1 {
			return ids
		}
		rest = rest[start+2:]

		end := strings.Index(rest, "]]")
		if end == -1 {
			return ids
		}

		id := rest[:end]
		rest = rest[end+2:]
		if !isCitationID(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
}

// GroundCitations resolves the [[id]] markers of an answer against the
// evidence set that was supplied to synthesis. Only markers matching a
// supplied evidence id become citations; ids the model invented are
// returned separately so the caller can log them.
func GroundCitations(answer string, evidence []common.Evidence) (citations []common.Citation, dropped []string) {
	byID := make(map[string]common.Evidence, len(evidence))
	for _, e := range evidence {
		byID[e.ID] = e
	}

	for _, id := range ParseCitationMarkers(answer) {
		e, ok := byID[id]
		if !ok {
			dropped = append(dropped, id)
			continue
		}
		citations = append(citations, e.Citation())
	}
	return citations, dropped
}

// StripCitationMarkers removes all valid [[id]] markers from an answer,
// collapsing the whitespace left behind. Used for response types that want
// citations as structured data only.
func StripCitationMarkers(answer string) string {
	var b strings.Builder
	b.Grow(len(answer))

	rest := answer
	for {
		start := strings.Index(rest, "[[")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+2:], "]]")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		id := rest[start+2 : start+2+end]
		if !isCitationID(id) {
			b.WriteString(rest[:start+2])
			rest = rest[start+2:]
			continue
		}
		// Drop one space before the marker so "claim [[id]]." reads "claim.".
		head := rest[:start]
		if strings.HasSuffix(head, " ") {
			head = head[:len(head)-1]
		}
		b.WriteString(head)
		rest = rest[start+2+end+2:]
	}

	return b.String()
}

func isCitationID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
