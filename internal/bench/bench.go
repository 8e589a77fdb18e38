// Package bench runs a labeled question suite against the query engine
// and reports per-theme answer coverage. Suites are YAML files; each
// question lists the themes a correct answer must cover, with keywords
// that signal the theme's presence.
package bench

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"lattice/pkg/query"
)

// Theme is one labeled aspect a question's answer must cover. A theme
// counts as covered when any of its keywords appears in the answer.
type Theme struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Question is one labeled benchmark query.
type Question struct {
	ID     string  `yaml:"id"`
	Query  string  `yaml:"query"`
	Route  string  `yaml:"route,omitempty"`
	Themes []Theme `yaml:"themes"`
}

// Suite is a labeled question set.
type Suite struct {
	Name      string     `yaml:"name"`
	Questions []Question `yaml:"questions"`
}

// LoadSuite reads a YAML question suite from disk.
func LoadSuite(path string) (*Suite, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	var s Suite
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	if len(s.Questions) == 0 {
		return nil, fmt.Errorf("suite %s contains no questions", path)
	}
	for _, q := range s.Questions {
		if q.ID == "" || q.Query == "" {
			return nil, fmt.Errorf("suite %s: question missing id or query", path)
		}
		if len(q.Themes) == 0 {
			return nil, fmt.Errorf("suite %s: question %s has no labeled themes", path, q.ID)
		}
	}
	return &s, nil
}

// AnswerFunc produces an answer for one benchmark question. forcedRoute
// is empty unless the question pins a route.
type AnswerFunc func(ctx context.Context, q string, forcedRoute query.Route) (*query.Answer, error)

// ThemeResult is the coverage verdict for one theme of one question.
type ThemeResult struct {
	QuestionID string
	Theme      string
	Covered    bool
	Matched    []string
}

// QuestionResult is the outcome of one benchmark question.
type QuestionResult struct {
	QuestionID string
	Route      query.Route
	Err        error
	Themes     []ThemeResult
}

// Report aggregates a suite run.
type Report struct {
	Suite     string
	Questions []QuestionResult
}

// Coverage returns the fraction of labeled themes covered across the
// suite, in [0, 1]. Questions that errored count all their themes as
// uncovered.
func (r *Report) Coverage() float64 {
	total, covered := 0, 0
	for _, q := range r.Questions {
		for _, t := range q.Themes {
			total++
			if t.Covered {
				covered++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

// String renders a per-question, per-theme coverage table.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "suite %s: coverage %.1f%%\n", r.Suite, r.Coverage()*100)
	for _, q := range r.Questions {
		if q.Err != nil {
			fmt.Fprintf(&b, "  %s (%s): ERROR %v\n", q.QuestionID, q.Route, q.Err)
			continue
		}
		for _, t := range q.Themes {
			mark := "MISS"
			if t.Covered {
				mark = "ok"
			}
			fmt.Fprintf(&b, "  %s / %s: %s\n", q.QuestionID, t.Theme, mark)
		}
	}
	return b.String()
}

// Run executes every question in the suite and scores theme coverage.
// Question failures are recorded in the report, not raised.
func Run(ctx context.Context, suite *Suite, answer AnswerFunc) *Report {
	report := &Report{Suite: suite.Name}

	for _, q := range suite.Questions {
		result := QuestionResult{QuestionID: q.ID, Route: query.Route(q.Route)}

		ans, err := answer(ctx, q.Query, query.Route(q.Route))
		if err != nil {
			result.Err = err
			for _, t := range q.Themes {
				result.Themes = append(result.Themes, ThemeResult{
					QuestionID: q.ID,
					Theme:      t.Name,
				})
			}
			report.Questions = append(report.Questions, result)
			continue
		}
		if ans.Route != "" {
			result.Route = ans.Route
		}

		text := strings.ToLower(ans.Text)
		for _, t := range q.Themes {
			tr := ThemeResult{QuestionID: q.ID, Theme: t.Name}
			for _, kw := range t.Keywords {
				if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
					tr.Matched = append(tr.Matched, kw)
				}
			}
			sort.Strings(tr.Matched)
			tr.Covered = len(tr.Matched) > 0
			result.Themes = append(result.Themes, tr)
		}
		report.Questions = append(report.Questions, result)
	}

	return report
}
