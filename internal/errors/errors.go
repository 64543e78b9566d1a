package errors

import (
	"errors"
	"fmt"
)

// AmanError is the structured error surfaced by the CLI, MCP and HTTP layers.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_506_RERANK_FAILED").
	Code string

	Message  string
	Category Category
	Severity Severity

	// Details carries context such as the failing stage or passage.
	Details map[string]string

	Cause     error
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches another AmanError by code.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns e for chaining.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the user hint and returns e for chaining.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates an AmanError. Category, severity and retryability derive from code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError whose message is err's message. Nil stays nil.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NetworkError creates a retryable network error.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// As returns the first AmanError in err's chain.
func As(err error) (*AmanError, bool) {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable reports whether err's chain holds a retryable AmanError.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable
}

// IsFatal reports whether err's chain holds a fatal AmanError.
func IsFatal(err error) bool {
	ae, ok := As(err)
	return ok && ae.Severity == SeverityFatal
}

// GetCode returns the code of the first AmanError in err's chain, or "".
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}
