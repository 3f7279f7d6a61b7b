package errors

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TavrenError is the structured error type for the retrieval engine.
// It carries a stable kind for callers plus context for logging.
type TavrenError struct {
	// Code is the unique error code (e.g., "ERR_403_INVALID_WEIGHT").
	Code string

	// Kind is the caller-facing discriminator derived from Code.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Provider, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *TavrenError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *TavrenError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with TavrenError.
func (e *TavrenError) Is(target error) bool {
	if t, ok := target.(*TavrenError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *TavrenError) WithDetail(key, value string) *TavrenError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *TavrenError) WithSuggestion(suggestion string) *TavrenError {
	e.Suggestion = suggestion
	return e
}

// New creates a new TavrenError with the given code and message.
// Kind, category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *TavrenError {
	return &TavrenError{
		Code:      code,
		Kind:      kindFromCode(code),
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a TavrenError from an existing error.
// The error's message becomes the TavrenError message.
func Wrap(code string, err error) *TavrenError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *TavrenError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *TavrenError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *TavrenError {
	return New(ErrCodeInternal, message, cause)
}

// StoreError creates a storage backend error.
func StoreError(message string, cause error) *TavrenError {
	return New(ErrCodeStoreFailed, message, cause)
}

// InvalidVectorDimension reports a vector whose length differs from the deployment dimension.
func InvalidVectorDimension(expected, got int) *TavrenError {
	return New(ErrCodeInvalidVectorDimension,
		fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", strconv.Itoa(expected)).
		WithDetail("got", strconv.Itoa(got))
}

// InvalidWeight reports a score weight outside [0, 1].
func InvalidWeight(name string, value float64) *TavrenError {
	return New(ErrCodeInvalidWeight,
		fmt.Sprintf("%s must be within [0, 1], got %g", name, value), nil).
		WithDetail("weight", name)
}

// EmptyResultSet reports that there was nothing to assemble.
func EmptyResultSet() *TavrenError {
	return New(ErrCodeEmptyResultSet, "no ranked results to assemble", nil)
}

// UnknownFacet reports a facet name outside the configured set.
func UnknownFacet(name string) *TavrenError {
	return New(ErrCodeUnknownFacet, fmt.Sprintf("unknown facet %q", name), nil).
		WithDetail("facet", name).
		WithSuggestion("Use one of the facets listed in search.known_facets")
}

// Timeout reports an operation that ran out of time. Always retryable.
func Timeout(operation string, elapsed time.Duration, cause error) *TavrenError {
	return New(ErrCodeOperationTimeout,
		fmt.Sprintf("%s timed out after %dms", operation, elapsed.Milliseconds()), cause).
		WithDetail("operation", operation).
		WithDetail("elapsed_ms", strconv.FormatInt(elapsed.Milliseconds(), 10))
}

// As extracts a *TavrenError from an error chain.
func As(err error) (*TavrenError, bool) {
	var te *TavrenError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if the chain holds a TavrenError with Retryable set.
func IsRetryable(err error) bool {
	if te, ok := As(err); ok {
		return te.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if te, ok := As(err); ok {
		return te.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a TavrenError.
// Returns empty string if not a TavrenError.
func GetCode(err error) string {
	if te, ok := As(err); ok {
		return te.Code
	}
	return ""
}

// GetKind extracts the kind from a TavrenError.
// Plain errors report KindInternal.
func GetKind(err error) Kind {
	if te, ok := As(err); ok {
		return te.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return GetKind(err) == kind
}
