package rpc

import (
	"fmt"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes.
const (
	// ImageNotFound indicates the requested image is not in the catalog.
	ImageNotFound = -32001

	// SearchExhausted indicates no noun/verb pair produced the target.
	SearchExhausted = -32002

	// RequestTimeout indicates the run did not finish within the deadline.
	RequestTimeout = -32003

	// StoreUnavailable indicates the image catalog is not configured.
	StoreUnavailable = -32004

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005
)

// Common error messages.
var (
	ErrParseError       = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest   = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound   = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams    = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError    = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy    = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrRequestTimeout   = NewRPCError(RequestTimeout, "Request timed out")
	ErrStoreUnavailable = NewRPCError(StoreUnavailable, "Image store not configured")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// ImageNotFoundError creates an error for a missing image.
func ImageNotFoundError(ref string) *RPCError {
	return NewRPCErrorWithData(ImageNotFound,
		fmt.Sprintf("Image not found: %s", ref),
		map[string]string{"image": ref})
}

// SearchExhaustedError creates an error for a search without a match.
func SearchExhaustedError(target int64) *RPCError {
	return NewRPCErrorWithData(SearchExhausted,
		fmt.Sprintf("No noun/verb pair produces %d", target),
		map[string]int64{"target": target})
}
