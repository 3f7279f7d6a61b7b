package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTavrenError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection reset")

	// When: wrapping with TavrenError
	te := New(ErrCodeProviderUnavailable, "embedding provider unavailable", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, te)
	assert.Equal(t, originalErr, errors.Unwrap(te))
	assert.True(t, errors.Is(te, originalErr))
}

func TestTavrenError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigInvalid,
			message:  "bad weights",
			expected: "[ERR_102_CONFIG_INVALID] bad weights",
		},
		{
			name:     "provider timeout",
			code:     ErrCodeProviderTimeout,
			message:  "embed timed out",
			expected: "[ERR_301_PROVIDER_TIMEOUT] embed timed out",
		},
		{
			name:     "empty result set",
			code:     ErrCodeEmptyResultSet,
			message:  "nothing",
			expected: "[ERR_406_EMPTY_RESULT_SET] nothing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestTavrenError_Is_MatchesByCode(t *testing.T) {
	err1 := InvalidWeight("semantic_weight", 1.5)
	err2 := InvalidWeight("keyword_weight", -1)

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, EmptyResultSet()))
}

func TestNew_DerivesKindCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		code      string
		kind      Kind
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeInvalidVectorDimension, KindInvalidVectorDimension, CategoryValidation, SeverityFatal, false},
		{ErrCodeInvalidWeight, KindInvalidWeight, CategoryValidation, SeverityFatal, false},
		{ErrCodeProviderTimeout, KindEmbeddingProvider, CategoryProvider, SeverityWarning, true},
		{ErrCodeProviderUnavailable, KindEmbeddingProvider, CategoryProvider, SeverityWarning, true},
		{ErrCodeProviderRejected, KindEmbeddingProvider, CategoryProvider, SeverityError, false},
		{ErrCodeOperationTimeout, KindTimeout, CategoryProvider, SeverityWarning, true},
		{ErrCodeEmptyResultSet, KindEmptyResultSet, CategoryValidation, SeverityError, false},
		{ErrCodeUnknownFacet, KindUnknownFacet, CategoryValidation, SeverityError, false},
		{ErrCodeStoreFailed, KindStore, CategoryInternal, SeverityError, false},
		{ErrCodeConfigInvalid, KindInvalidConfig, CategoryConfig, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestInvalidVectorDimension_CarriesDetails(t *testing.T) {
	err := InvalidVectorDimension(384, 3)

	assert.Equal(t, KindInvalidVectorDimension, err.Kind)
	assert.Equal(t, "384", err.Details["expected"])
	assert.Equal(t, "3", err.Details["got"])
	assert.Contains(t, err.Message, "expected 384, got 3")
	assert.True(t, IsFatal(err))
}

func TestTimeout_IsRetryableAndNamesOperation(t *testing.T) {
	err := Timeout("store.query", 1500*time.Millisecond, nil)

	assert.True(t, IsRetryable(err))
	assert.Equal(t, "store.query", err.Details["operation"])
	assert.Equal(t, "1500", err.Details["elapsed_ms"])
	assert.Equal(t, KindTimeout, err.Kind)
}

func TestHelpers_SeeThroughFmtWrapping(t *testing.T) {
	// Given: a structured error wrapped with fmt.Errorf
	wrapped := fmt.Errorf("hybrid search: %w", New(ErrCodeProviderTimeout, "slow", nil))

	// Then: helpers still find it
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeProviderTimeout, GetCode(wrapped))
	assert.Equal(t, KindEmbeddingProvider, GetKind(wrapped))
	assert.True(t, IsKind(wrapped, KindEmbeddingProvider))
}

func TestHelpers_PlainErrors(t *testing.T) {
	plain := errors.New("boom")

	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Equal(t, "", GetCode(plain))
	assert.Equal(t, KindInternal, GetKind(plain))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithSuggestion_Chains(t *testing.T) {
	err := StoreError("open failed", nil).WithSuggestion("check store.path")

	assert.Equal(t, "check store.path", err.Suggestion)
	assert.Equal(t, KindStore, err.Kind)
}
