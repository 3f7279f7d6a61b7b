package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_SplitsIdentifiers(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"heartRate", []string{"heart", "rate"}},
		{"sleep_stage_REM", []string{"sleep", "stage", "rem"}},
		{"HRVScore 42", []string{"hrv", "score", "42"}},
		{"a b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestSplitCamelCase_Empty(t *testing.T) {
	assert.Equal(t, []string{}, SplitCamelCase(""))
}

func TestNewAnalyzer_English_StemsAndDropsStopWords(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerEnglish)
	require.NoError(t, err)

	terms := a.Terms("The resting heart rates")

	assert.NotContains(t, terms, "the")
	assert.Contains(t, terms, "heart")
	assert.Contains(t, terms, "rate")
}

func TestNewAnalyzer_Simple(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerSimple)
	require.NoError(t, err)

	assert.Equal(t, []string{"heart", "rate", "variability"}, a.Terms("the heartRate variability"))
}

func TestNewAnalyzer_Unknown(t *testing.T) {
	_, err := NewAnalyzer("klingon")
	assert.Error(t, err)
}

func TestScorer_Coverage(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerSimple)
	require.NoError(t, err)
	s := NewScorer(a, MeasureCoverage)

	assert.InDelta(t, 1.0, s.Score("heart rate", "resting heart rate 62 bpm"), 1e-9)
	assert.InDelta(t, 0.5, s.Score("heart rate", "heart health"), 1e-9)
	assert.Zero(t, s.Score("heart rate", "sleep duration"))
}

func TestScorer_Jaccard(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerSimple)
	require.NoError(t, err)
	s := NewScorer(a, MeasureJaccard)

	// {heart, rate} vs {heart, rate, zones}: 2/3
	assert.InDelta(t, 2.0/3.0, s.Score("heart rate", "heart rate zones"), 1e-9)
}

func TestScorer_EmptyInputsScoreZero(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerEnglish)
	require.NoError(t, err)
	s := NewScorer(a, MeasureCoverage)

	assert.Zero(t, s.Score("", "heart rate"))
	assert.Zero(t, s.Score("heart", ""))
	assert.True(t, s.Prepare("the").Empty())
}

func TestScorer_ScoreIsBounded(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerEnglish)
	require.NoError(t, err)

	for _, m := range []Measure{MeasureCoverage, MeasureJaccard} {
		q := NewScorer(a, m).Prepare("heart heart rate rate")
		score := q.Score("heart rate heart rate heart")
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestParseMeasure(t *testing.T) {
	m, err := ParseMeasure("")
	require.NoError(t, err)
	assert.Equal(t, MeasureCoverage, m)

	m, err = ParseMeasure("Jaccard")
	require.NoError(t, err)
	assert.Equal(t, MeasureJaccard, m)

	_, err = ParseMeasure("bm25")
	assert.Error(t, err)
}
