package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	te, ok := As(err)
	if !ok {
		te = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error (%s): %s\n", te.Kind, te.Message))
	if te.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", te.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", te.Code))

	return sb.String()
}

// Payload is the JSON shape of an error crossing the service boundary.
// It never carries the underlying cause.
type Payload struct {
	Kind       string            `json:"kind"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// ToPayload converts any error into its boundary representation.
// Non-structured errors collapse to an internal error without their text.
func ToPayload(err error) Payload {
	te, ok := As(err)
	if !ok {
		te = InternalError("internal error", err)
	}
	return Payload{
		Kind:       string(te.Kind),
		Code:       te.Code,
		Message:    te.Message,
		Retryable:  te.Retryable,
		Details:    te.Details,
		Suggestion: te.Suggestion,
	}
}

// FormatJSON returns the JSON boundary representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(ToPayload(err))
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}

	te, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", te.Code,
		"error_kind", string(te.Kind),
		"error", te.Message,
		"retryable", te.Retryable,
	}
	if te.Cause != nil {
		attrs = append(attrs, "cause", te.Cause.Error())
	}
	for k, v := range te.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
