// Package errors provides structured error types for nodeplace.
// All errors include a category, code, message, and retryable flag so the
// binaries can tell configuration mistakes from device failures.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryResource ErrorCategory = "RESOURCE"
	ErrCategoryTrace    ErrorCategory = "TRACE"
	ErrCategoryIO       ErrorCategory = "IO"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryResults  ErrorCategory = "RESULTS"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidConfig            = "INVALID_CONFIG"
	CodeInvalidTopology          = "INVALID_TOPOLOGY"
	CodeInsufficientPopularNodes = "INSUFFICIENT_POPULAR_NODES"
	CodeEmptyNodeSet             = "EMPTY_NODE_SET"
	CodeInvalidGeometry          = "INVALID_GEOMETRY"
	CodeInsufficientOffsets      = "INSUFFICIENT_OFFSETS"

	// Resource codes
	CodeOpenFailed       = "OPEN_FAILED"
	CodeAllocationFailed = "ALLOCATION_FAILED"
	CodeDeviceTooSmall   = "DEVICE_TOO_SMALL"

	// Trace codes
	CodeMalformedHeader    = "MALFORMED_HEADER"
	CodeMalformedOperation = "MALFORMED_OPERATION"
	CodeTraceWriteFailed   = "TRACE_WRITE_FAILED"

	// IO codes
	CodeReadFailed    = "READ_FAILED"
	CodeWriteFailed   = "WRITE_FAILED"
	CodeSyncFailed    = "SYNC_FAILED"
	CodeShortTransfer = "SHORT_TRANSFER"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Results codes
	CodeRecordFailed = "RECORD_FAILED"
	CodeRunNotFound  = "RUN_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// NodeplaceError is the structured error type used throughout the system.
type NodeplaceError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *NodeplaceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *NodeplaceError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *NodeplaceError) Is(target error) bool {
	var t *NodeplaceError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new NodeplaceError.
func New(category ErrorCategory, code, message string) *NodeplaceError {
	return &NodeplaceError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new NodeplaceError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *NodeplaceError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new NodeplaceError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *NodeplaceError {
	return &NodeplaceError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *NodeplaceError) WithDetails(details map[string]interface{}) *NodeplaceError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ne *NodeplaceError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a NodeplaceError.
func GetCategory(err error) ErrorCategory {
	var ne *NodeplaceError
	if errors.As(err, &ne) {
		return ne.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a NodeplaceError.
func GetCode(err error) string {
	var ne *NodeplaceError
	if errors.As(err, &ne) {
		return ne.Code
	}
	return ""
}

// ExitCode maps an error to a process exit status.
// Configuration and trace problems exit with 2, everything else with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch GetCategory(err) {
	case ErrCategoryConfig, ErrCategoryTrace:
		return 2
	default:
		return 1
	}
}

// isRetryable determines if an error code is retryable.
// Only object storage transfers are; the measured path never retries.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *NodeplaceError {
	return New(ErrCategoryConfig, code, message)
}

func NewResourceError(code, message string, cause error) *NodeplaceError {
	return Wrap(ErrCategoryResource, code, message, cause)
}

func NewTraceError(code, message string, cause error) *NodeplaceError {
	return Wrap(ErrCategoryTrace, code, message, cause)
}

func NewIOError(code, message string, cause error) *NodeplaceError {
	return Wrap(ErrCategoryIO, code, message, cause)
}

func NewStorageError(code, message string, cause error) *NodeplaceError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewResultsError(code, message string, cause error) *NodeplaceError {
	return Wrap(ErrCategoryResults, code, message, cause)
}

func NewInternalError(message string, cause error) *NodeplaceError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
