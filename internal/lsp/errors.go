package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the LSP layer.
var (
	// ErrShutdown indicates the connection has been closed.
	ErrShutdown = errors.New("lsp connection shut down")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrMethodNotFound is returned by handlers for methods they do not serve.
	ErrMethodNotFound = errors.New("method not found")

	// ErrInvalidChange indicates a content change could not be applied.
	ErrInvalidChange = errors.New("invalid content change")
)

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError returns an RPCError with the given code.
func NewError(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)

// toRPCError maps a handler error onto the wire representation.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, ErrMethodNotFound):
		return &RPCError{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.Is(err, ErrDocumentNotOpen), errors.Is(err, ErrInvalidChange):
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
}
