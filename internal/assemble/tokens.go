package assemble

import "unicode/utf8"

// DefaultCharsPerToken is the rendering-size heuristic: one token per four characters.
const DefaultCharsPerToken = 4

// TokenEstimator approximates the token count of rendered text. A real
// tokenizer can replace CharEstimator without changing truncation.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// CharEstimator counts one token per CharsPerToken characters, rounding up.
type CharEstimator struct {
	CharsPerToken int
}

// EstimateTokens implements TokenEstimator.
func (e CharEstimator) EstimateTokens(text string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}
	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per
}
