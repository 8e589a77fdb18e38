package query

import (
	"reflect"
	"testing"

	"lattice/pkg/common"
)

func TestParseCitationMarkers(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   []string
	}{
		{
			name:   "single marker",
			answer: "The total is 4,200 EUR [[chunk-1]].",
			want:   []string{"chunk-1"},
		},
		{
			name:   "multiple markers one statement",
			answer: "Both contracts state this [[chunk-1]] [[sent-9]].",
			want:   []string{"chunk-1", "sent-9"},
		},
		{
			name:   "duplicates collapse in order",
			answer: "First [[a]]. Second [[b]]. Again [[a]].",
			want:   []string{"a", "b"},
		},
		{
			name:   "malformed markers ignored",
			answer: "Broken [[no spaces allowed]] and unclosed [[x",
			want:   nil,
		},
		{
			name:   "no markers",
			answer: "Plain text answer.",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCitationMarkers(tt.answer)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCitationMarkers(%q) = %v, want %v", tt.answer, got, tt.want)
			}
		})
	}
}

func TestGroundCitationsDropsUnknownIDs(t *testing.T) {
	evidence := []common.Evidence{
		{ID: "sent-1", Kind: common.EvidenceSentence, DocumentID: "doc-1", Page: 3},
		{ID: "chunk-2", Kind: common.EvidenceChunk, DocumentID: "doc-2", Page: 7},
	}
	answer := "Fact one [[sent-1]]. Fact two [[chunk-2]]. Invented [[ghost-9]]."

	citations, dropped := GroundCitations(answer, evidence)

	wantCitations := []common.Citation{
		{SentenceID: "sent-1", DocumentID: "doc-1", Page: 3},
		{ChunkID: "chunk-2", DocumentID: "doc-2", Page: 7},
	}
	if !reflect.DeepEqual(citations, wantCitations) {
		t.Errorf("citations = %+v, want %+v", citations, wantCitations)
	}
	if !reflect.DeepEqual(dropped, []string{"ghost-9"}) {
		t.Errorf("dropped = %v, want [ghost-9]", dropped)
	}
}

func TestGroundCitationsAllGrounded(t *testing.T) {
	// Every citation must point to supplied evidence, never beyond it.
	evidence := []common.Evidence{
		{ID: "sent-1", Kind: common.EvidenceSentence, DocumentID: "doc-1"},
	}
	citations, dropped := GroundCitations("A [[sent-1]] B [[sent-1]]", evidence)
	if len(dropped) != 0 {
		t.Errorf("unexpected dropped ids: %v", dropped)
	}
	for _, c := range citations {
		if c.SentenceID != "sent-1" {
			t.Errorf("citation outside evidence set: %+v", c)
		}
	}
}

func TestStripCitationMarkers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trailing marker", in: "The amount is 42 [[chunk-1]].", want: "The amount is 42."},
		{name: "two markers", in: "Agreed [[a]] [[b]].", want: "Agreed."},
		{name: "malformed kept", in: "Keep [[not an id]] as text.", want: "Keep [[not an id]] as text."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCitationMarkers(tt.in); got != tt.want {
				t.Errorf("StripCitationMarkers(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
