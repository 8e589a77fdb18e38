package retrieval

import (
	"regexp"
	"strings"
)

var (
	markupPattern = regexp.MustCompile(`(?s)<[^>]+>|\*\*|__|\x60{1,3}|\|[-\s|]+\|`)

	// Signatures, salutations, page footers and similar boilerplate that
	// sentence splitting regularly surfaces from contracts and letters.
	boilerplatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(best|kind|warm)\s+regards[,.]?`),
		regexp.MustCompile(`(?i)^(sincerely|respectfully|yours\s+(truly|faithfully))[,.]?`),
		regexp.MustCompile(`(?i)^page\s+\d+\s+of\s+\d+$`),
		regexp.MustCompile(`(?i)^\[?(signature|seal|stamp)\]?:?\s*$`),
		regexp.MustCompile(`(?i)^(confidential|draft|internal use only)\s*$`),
	}

	// Form-label fragments like "Name:", "Date: ____" carry no claim
	// content on their own.
	formLabelPattern = regexp.MustCompile(`(?i)^[\w\s/]{1,30}:\s*[_.\s]*$`)
)

const minSentenceWords = 5

// DenoiseSentences filters raw sentence-search candidates down to usable
// textual evidence: markup is stripped, boilerplate and form-label lines
// are dropped, and sub-sentence fragments are removed. Order is preserved.
func DenoiseSentences(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		text := CleanSentence(c.Text)
		if !usableSentence(text) {
			continue
		}
		out = append(out, Candidate{ID: c.ID, Text: text})
	}
	return out
}

// CleanSentence strips markup and collapses whitespace.
func CleanSentence(text string) string {
	text = markupPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

func usableSentence(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range boilerplatePatterns {
		if p.MatchString(text) {
			return false
		}
	}
	if formLabelPattern.MatchString(text) {
		return false
	}
	// Sub-sentence fragments: too few words to carry a claim.
	if len(strings.Fields(text)) < minSentenceWords {
		return false
	}
	return true
}
