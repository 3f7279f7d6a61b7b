package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesKindHintAndCode(t *testing.T) {
	err := UnknownFacet("tpye")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error (UnknownFacet): unknown facet \"tpye\"")
	assert.Contains(t, out, "Hint: Use one of the facets")
	assert.Contains(t, out, "Code: ERR_405_UNKNOWN_FACET")
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestToPayload_HidesPlainErrorText(t *testing.T) {
	// Given: a raw provider error that is not structured
	raw := errors.New("upstream said: stack trace ...")

	// When: converting it for the boundary
	p := ToPayload(raw)

	// Then: only a generic internal error crosses
	assert.Equal(t, string(KindInternal), p.Kind)
	assert.Equal(t, "internal error", p.Message)
	assert.NotContains(t, p.Message, "stack trace")
}

func TestFormatJSON_RoundTripsKind(t *testing.T) {
	data, err := FormatJSON(InvalidWeight("keyword_weight", 2))
	require.NoError(t, err)

	var p Payload
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "InvalidWeight", p.Kind)
	assert.Equal(t, ErrCodeInvalidWeight, p.Code)
	assert.False(t, p.Retryable)
}

func TestFormatForLog_StructuredAttrs(t *testing.T) {
	attrs := FormatForLog(New(ErrCodeProviderTimeout, "slow", errors.New("deadline")))

	assert.Contains(t, attrs, "error_kind")
	assert.Contains(t, attrs, "EmbeddingProviderError")
	assert.Contains(t, attrs, "deadline")
	assert.Equal(t, []any{"error", "x"}, FormatForLog(errors.New("x")))
	assert.Nil(t, FormatForLog(nil))
}
