// Package errors provides a structured error system for cachemgr with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Capability errors
	ErrCodeCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"

	// Storage errors
	ErrCodeStorageRead        ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite       ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeTransactionFailed  ErrorCode = "TRANSACTION_FAILED"
	ErrCodeSchemaMismatch     ErrorCode = "SCHEMA_MISMATCH"

	// Encoding errors
	ErrCodeSerialization ErrorCode = "SERIALIZATION_FAILED"

	// Operation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCapability    ErrorCategory = "capability"
	CategoryStorage       ErrorCategory = "storage"
	CategoryEncoding      ErrorCategory = "encoding"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Key       string `json:"key,omitempty"`

	// Absorbed marks failures that the cache converts into a miss or no-op
	// instead of returning to the caller.
	Absorbed bool `json:"absorbed"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("Key=%q", e.Key))
	}
	if e.Absorbed {
		parts = append(parts, "Absorbed=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new cache error with default values.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Absorbed:  IsAbsorbedByDefault(code),
	}
}

// Wrap creates a cache error around cause.
func Wrap(code ErrorCode, cause error, message string) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CAPABILITY_"):
		return CategoryCapability
	case strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "QUOTA_") ||
		strings.HasPrefix(codeStr, "TRANSACTION_") || strings.HasPrefix(codeStr, "SCHEMA_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "SERIALIZATION_"):
		return CategoryEncoding
	case strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsAbsorbedByDefault reports whether failures with this code are recoverable
// conditions that the cache turns into a miss or no-op.
func IsAbsorbedByDefault(code ErrorCode) bool {
	absorbedCodes := map[ErrorCode]bool{
		ErrCodeCapabilityUnavailable: true,
		ErrCodeSerialization:         true,
		ErrCodeQuotaExceeded:         true,
		ErrCodeStorageRead:           true,
		ErrCodeStorageWrite:          true,
	}
	return absorbedCodes[code]
}

// WithDetail adds detailed information to an error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithKey sets the cache key the error relates to
func (e *CacheError) WithKey(key string) *CacheError {
	e.Key = key
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// CodeOf returns the code of the first CacheError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var cacheErr *CacheError
	if stderrors.As(err, &cacheErr) {
		return cacheErr.Code, true
	}
	return "", false
}

// HasCode reports whether err's chain contains a CacheError with code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &CacheError{Code: code})
}
