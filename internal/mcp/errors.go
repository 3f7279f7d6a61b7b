// Package mcp implements the Model Context Protocol server exposing the
// retrieval operations as tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Standard JSON-RPC error codes.
const (
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeMethodNotFound = -32601
)

// ErrorData is the structured payload attached to every tool error.
type ErrorData struct {
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
}

// MCPError is a JSON-RPC error with structured data.
type MCPError struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// Wire converts e to the SDK's protocol error, which the SDK returns to
// the client as a JSON-RPC error instead of a tool result.
func (e *MCPError) Wire() *jsonrpc.Error {
	data, _ := json.Marshal(e.Data)
	return &jsonrpc.Error{
		Code:    int64(e.Code),
		Message: e.Message,
		Data:    data,
	}
}

// MapError converts an engine error into an MCP error. Validation kinds
// map to invalid params; everything else is an internal error. Causes and
// provider bodies are never included.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Request timed out.",
			Data: ErrorData{
				Kind:      string(terrors.KindTimeout),
				Code:      terrors.ErrCodeOperationTimeout,
				Message:   "request timed out",
				Retryable: true,
			},
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Request was canceled.",
			Data: ErrorData{
				Kind:    string(terrors.KindInternal),
				Code:    terrors.ErrCodeInternal,
				Message: "request was canceled",
			},
		}
	}

	p := terrors.ToPayload(err)
	code := ErrCodeInternalError
	if te, ok := terrors.As(err); ok && te.Category == terrors.CategoryValidation {
		code = ErrCodeInvalidParams
	}
	message := p.Message
	if p.Suggestion != "" {
		message = fmt.Sprintf("%s %s", p.Message, p.Suggestion)
	}
	return &MCPError{
		Code:    code,
		Message: message,
		Data: ErrorData{
			Kind:      p.Kind,
			Code:      p.Code,
			Message:   p.Message,
			Retryable: p.Retryable,
		},
	}
}

// NewInvalidParamsError creates an invalid-params error with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
		Data: ErrorData{
			Kind:    string(terrors.KindInvalidInput),
			Code:    terrors.ErrCodeInvalidInput,
			Message: msg,
		},
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	msg := fmt.Sprintf("Resource '%s' not found.", uri)
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: msg,
		Data: ErrorData{
			Kind:    string(terrors.KindInvalidInput),
			Code:    terrors.ErrCodeInvalidInput,
			Message: msg,
		},
	}
}
