// Package keyword scores lexical overlap between a query and candidate text.
//
// Text is analyzed with bleve: the "english" analyzer stems and drops
// English stop words, the "simple" analyzer splits identifiers and only
// lowercases. Scores are normalized to [0, 1].
package keyword

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/registry"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

const (
	// AnalyzerEnglish stems and removes English stop words.
	AnalyzerEnglish = "english"
	// AnalyzerSimple splits identifiers and lowercases.
	AnalyzerSimple = "simple"

	wordTokenizerName = "tavren_word"
	stopFilterName    = "tavren_stop"
	simpleAnalyzer    = "tavren_simple"
)

func init() {
	_ = registry.RegisterTokenizer(wordTokenizerName, wordTokenizerConstructor)
	_ = registry.RegisterTokenFilter(stopFilterName, stopFilterConstructor)
}

// Analyzer turns text into terms.
type Analyzer interface {
	Terms(text string) []string
}

type bleveAnalyzer struct {
	analyzer analysis.Analyzer
}

// NewAnalyzer returns the named analyzer.
func NewAnalyzer(name string) (Analyzer, error) {
	m := bleve.NewIndexMapping()

	var analyzerName string
	switch strings.ToLower(name) {
	case "", AnalyzerEnglish:
		analyzerName = en.AnalyzerName
	case AnalyzerSimple:
		err := m.AddCustomAnalyzer(simpleAnalyzer, map[string]interface{}{
			"type":      custom.Name,
			"tokenizer": wordTokenizerName,
			"token_filters": []string{
				lowercase.Name,
				stopFilterName,
			},
		})
		if err != nil {
			return nil, terrors.InternalError("failed to build simple analyzer", err)
		}
		analyzerName = simpleAnalyzer
	default:
		return nil, terrors.ConfigError(fmt.Sprintf("unknown keyword analyzer %q", name), nil)
	}

	a := m.AnalyzerNamed(analyzerName)
	if a == nil {
		return nil, terrors.InternalError(fmt.Sprintf("analyzer %q is not registered", analyzerName), nil)
	}
	return &bleveAnalyzer{analyzer: a}, nil
}

// Terms implements Analyzer.
func (b *bleveAnalyzer) Terms(text string) []string {
	stream := b.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		terms = append(terms, string(tok.Term))
	}
	return terms
}

func wordTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &wordTokenizer{}, nil
}

// wordTokenizer adapts Tokenize to analysis.Tokenizer.
type wordTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *wordTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lowerText := strings.ToLower(text)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		start := strings.Index(lowerText[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func stopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &stopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type stopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
