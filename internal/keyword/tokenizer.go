package keyword

import (
	"regexp"
	"strings"
	"unicode"
)

// wordRegex matches alphanumeric runs, keeping underscores for the identifier split.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// DefaultStopWords are dropped by the simple analyzer.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"in", "is", "it", "of", "on", "or", "that", "the", "to", "was",
	"with", "my", "me", "per",
}

// Tokenize splits text into lowercased words. Identifiers such as
// heartRate or sleep_stage are split into their parts, and single-rune
// tokens are dropped.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			lower := strings.ToLower(part)
			if len([]rune(lower)) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case then camelCase.
func SplitIdentifier(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase words.
//   - "heartRate" -> ["heart", "Rate"]
//   - "HRVScore" -> ["HRV", "Score"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// acronym boundary or lower-to-upper transition
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// BuildStopWordMap converts a stop word list to a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

var defaultStopSet = BuildStopWordMap(DefaultStopWords)

// IsStopWord reports whether a lowercased token is in DefaultStopWords.
func IsStopWord(token string) bool {
	_, ok := defaultStopSet[token]
	return ok
}
