// Package mcp exposes the retrieval pipeline as a Model Context Protocol server.
package mcp

import (
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
)

// MCP error codes. The -3200x range is application defined.
const (
	// ErrCodeIndexNotFound indicates no usable index in the data directory.
	ErrCodeIndexNotFound = -32001

	// ErrCodeUpstreamFailed indicates a retriever or the reranker failed.
	ErrCodeUpstreamFailed = -32002

	// ErrCodeTimeout indicates a collaborator timed out or the circuit is open.
	ErrCodeTimeout = -32003

	// ErrCodeIntegrity indicates a ranked passage has no registry identity.
	ErrCodeIntegrity = -32004

	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound is returned by CallTool for an unknown tool name.
var ErrToolNotFound = errors.New("tool not found")

// MCPError is an error with an MCP error code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`

	// ErrorCode is the hybridrank error code, e.g. ERR_506_RERANK_FAILED.
	ErrorCode string `json:"error_code,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts err to an MCPError. Pipeline stage errors are first
// classified into hybridrank error codes.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var me *MCPError
	if errors.As(err, &me) {
		return me
	}
	if errors.Is(err, ErrToolNotFound) {
		return &MCPError{Code: ErrCodeMethodNotFound, Message: err.Error()}
	}

	ae := amerrors.FromStageError(err)
	message := ae.Message
	if ae.Suggestion != "" {
		message = ae.Message + ". " + ae.Suggestion
	}
	return &MCPError{Code: codeFor(ae), Message: message, ErrorCode: ae.Code}
}

func codeFor(ae *amerrors.AmanError) int {
	switch ae.Code {
	case amerrors.ErrCodeIndexMissing, amerrors.ErrCodeCorruptIndex, amerrors.ErrCodeDimensionMismatch:
		return ErrCodeIndexNotFound
	case amerrors.ErrCodeIdentityIntegrity:
		return ErrCodeIntegrity
	case amerrors.ErrCodeNetworkTimeout, amerrors.ErrCodeCircuitOpen:
		return ErrCodeTimeout
	case amerrors.ErrCodeSearchFailed, amerrors.ErrCodeRerankFailed,
		amerrors.ErrCodeEmbeddingFailed, amerrors.ErrCodeNetworkUnavailable, amerrors.ErrCodeRegistryFailed:
		return ErrCodeUpstreamFailed
	}
	if ae.Category == amerrors.CategoryValidation {
		return ErrCodeInvalidParams
	}
	return ErrCodeInternalError
}

// NewInvalidParamsError creates an invalid-params error.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}
