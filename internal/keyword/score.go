package keyword

import (
	"fmt"
	"strings"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Measure selects the overlap formula.
type Measure string

const (
	// MeasureCoverage is |Q∩D| / |Q|: the share of query terms present in the text.
	MeasureCoverage Measure = "coverage"
	// MeasureJaccard is |Q∩D| / |Q∪D| over term sets.
	MeasureJaccard Measure = "jaccard"
)

// ParseMeasure validates a measure name.
func ParseMeasure(name string) (Measure, error) {
	switch m := Measure(strings.ToLower(name)); m {
	case "", MeasureCoverage:
		return MeasureCoverage, nil
	case MeasureJaccard:
		return MeasureJaccard, nil
	default:
		return "", terrors.ConfigError(fmt.Sprintf("unknown keyword measure %q", name), nil)
	}
}

// Scorer computes normalized keyword scores. It is safe for concurrent use.
type Scorer struct {
	analyzer Analyzer
	measure  Measure
}

// NewScorer creates a scorer.
func NewScorer(a Analyzer, m Measure) *Scorer {
	return &Scorer{analyzer: a, measure: m}
}

// Query is an analyzed query, reusable across many candidates.
type Query struct {
	terms   map[string]struct{}
	measure Measure
	scorer  *Scorer
}

// Prepare analyzes query text once.
func (s *Scorer) Prepare(query string) Query {
	return Query{
		terms:   termSet(s.analyzer.Terms(query)),
		measure: s.measure,
		scorer:  s,
	}
}

// Empty reports whether the query produced no terms.
func (q Query) Empty() bool { return len(q.terms) == 0 }

// Score returns the overlap between the query and text in [0, 1].
// A query without terms scores 0 against everything.
func (q Query) Score(text string) float64 {
	if len(q.terms) == 0 {
		return 0
	}
	doc := termSet(q.scorer.analyzer.Terms(text))
	if len(doc) == 0 {
		return 0
	}

	shared := 0
	for t := range q.terms {
		if _, ok := doc[t]; ok {
			shared++
		}
	}

	switch q.measure {
	case MeasureJaccard:
		union := len(q.terms) + len(doc) - shared
		return float64(shared) / float64(union)
	default:
		return float64(shared) / float64(len(q.terms))
	}
}

// Score is a convenience for one-off comparisons.
func (s *Scorer) Score(query, text string) float64 {
	return s.Prepare(query).Score(text)
}

func termSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}
