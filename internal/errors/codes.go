// Package errors provides structured error handling for the Tavren retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 3XX: Provider, network and timeout errors
//   - 4XX: Validation errors
//   - 5XX: Internal and storage errors
//
// Every code also maps to a Kind, the stable name surfaced to callers
// (for example "InvalidWeight" or "EmbeddingProviderError").
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryProvider indicates failures of external providers, networks and deadlines.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal or storage errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates a caller error that must not be retried.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a transient failure.
	SeverityWarning Severity = "WARNING"
)

// Kind is the caller-facing error discriminator.
type Kind string

const (
	KindInvalidConfig          Kind = "InvalidConfig"
	KindInvalidInput           Kind = "InvalidInput"
	KindInvalidVectorDimension Kind = "InvalidVectorDimension"
	KindInvalidWeight          Kind = "InvalidWeight"
	KindUnknownFacet           Kind = "UnknownFacet"
	KindEmbeddingProvider      Kind = "EmbeddingProviderError"
	KindTextGeneration         Kind = "TextGenerationError"
	KindEmptyResultSet         Kind = "EmptyResultSet"
	KindTimeout                Kind = "Timeout"
	KindStore                  Kind = "StoreError"
	KindInternal               Kind = "InternalError"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Provider / network / timeout errors (300-399)
	ErrCodeProviderTimeout     = "ERR_301_PROVIDER_TIMEOUT"
	ErrCodeProviderUnavailable = "ERR_302_PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected    = "ERR_303_PROVIDER_REJECTED"
	ErrCodeOperationTimeout    = "ERR_304_OPERATION_TIMEOUT"
	ErrCodeTextGenFailed       = "ERR_305_TEXTGEN_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput           = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidVectorDimension = "ERR_402_INVALID_VECTOR_DIMENSION"
	ErrCodeInvalidWeight          = "ERR_403_INVALID_WEIGHT"
	ErrCodeQueryEmpty             = "ERR_404_QUERY_EMPTY"
	ErrCodeUnknownFacet           = "ERR_405_UNKNOWN_FACET"
	ErrCodeEmptyResultSet         = "ERR_406_EMPTY_RESULT_SET"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeStoreFailed  = "ERR_502_STORE_FAILED"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "402" from "ERR_402_INVALID_VECTOR_DIMENSION")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// kindFromCode maps an error code to its caller-facing kind.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeConfigNotFound, ErrCodeConfigInvalid:
		return KindInvalidConfig
	case ErrCodeProviderTimeout, ErrCodeProviderUnavailable, ErrCodeProviderRejected:
		return KindEmbeddingProvider
	case ErrCodeOperationTimeout:
		return KindTimeout
	case ErrCodeTextGenFailed:
		return KindTextGeneration
	case ErrCodeInvalidInput, ErrCodeQueryEmpty:
		return KindInvalidInput
	case ErrCodeInvalidVectorDimension:
		return KindInvalidVectorDimension
	case ErrCodeInvalidWeight:
		return KindInvalidWeight
	case ErrCodeUnknownFacet:
		return KindUnknownFacet
	case ErrCodeEmptyResultSet:
		return KindEmptyResultSet
	case ErrCodeStoreFailed:
		return KindStore
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeInvalidVectorDimension, ErrCodeInvalidWeight:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderUnavailable, ErrCodeOperationTimeout, ErrCodeTextGenFailed:
		return true
	default:
		return false
	}
}
