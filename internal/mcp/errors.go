// Package mcp implements the Model Context Protocol server exposing the
// fusearch index to AI clients.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotFound indicates a root has no usable index.
	ErrCodeIndexNotFound = -32001

	// ErrCodeSearchFailed indicates the query could not be answered.
	ErrCodeSearchFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Messages of coded
// errors carry their suggestion so clients can act on them.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	if fe, ok := ferrors.As(err); ok {
		return mapFusearchError(fe)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

func mapFusearchError(fe *ferrors.FusearchError) *MCPError {
	message := fe.Message
	if fe.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", fe.Message, fe.Suggestion)
	}

	switch {
	case fe.Code == ferrors.ErrCodeStorageUnavailable || fe.Code == ferrors.ErrCodeCorruptIndex:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case fe.Code == ferrors.ErrCodeSearchFailed:
		return &MCPError{Code: ErrCodeSearchFailed, Message: message}
	case fe.Category == ferrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
