package retrieval

import (
	"reflect"
	"testing"
)

func TestDenoiseSentences(t *testing.T) {
	in := []Candidate{
		{ID: "s1", Text: "The turbine gearbox requires inspection every six months."},
		{ID: "s2", Text: "Best regards,"},
		{ID: "s3", Text: "Page 4 of 12"},
		{ID: "s4", Text: "Date: ____"},
		{ID: "s5", Text: "<b>The rotor blade</b> was **replaced** during the 2024 overhaul."},
		{ID: "s6", Text: "gearbox oil"},
		{ID: "s7", Text: "[Signature]"},
		{ID: "s8", Text: "CONFIDENTIAL"},
	}
	want := []Candidate{
		{ID: "s1", Text: "The turbine gearbox requires inspection every six months."},
		{ID: "s5", Text: "The rotor blade was replaced during the 2024 overhaul."},
	}
	got := DenoiseSentences(in)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DenoiseSentences:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestCleanSentence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "html tags", in: "<p>Oil level   was low.</p>", want: "Oil level was low."},
		{name: "markdown emphasis", in: "The **critical** value is __42__.", want: "The critical value is 42."},
		{name: "table rule", in: "|---|---| totals below", want: "totals below"},
		{name: "whitespace collapse", in: "  spread \n across\tlines ", want: "spread across lines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanSentence(tt.in); got != tt.want {
				t.Errorf("CleanSentence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDenoisePreservesOrder(t *testing.T) {
	in := []Candidate{
		{ID: "s3", Text: "Third sentence mentions the maintenance interval explicitly."},
		{ID: "s1", Text: "First sentence describes the turbine assembly in detail."},
		{ID: "s2", Text: "Second sentence covers the gearbox replacement procedure fully."},
	}
	got := DenoiseSentences(in)
	if len(got) != 3 {
		t.Fatalf("expected all sentences kept, got %d", len(got))
	}
	for i, c := range got {
		if c.ID != in[i].ID {
			t.Errorf("position %d: got %s, want %s", i, c.ID, in[i].ID)
		}
	}
}
