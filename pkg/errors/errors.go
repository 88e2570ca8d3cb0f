// Package errors provides the single filesystem-layer error type for namedfs,
// with error codes, categories and a nested cause.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for namedfs operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Name errors
	ErrCodeMalformedName ErrorCode = "MALFORMED_NAME"

	// Cluster errors
	ErrCodeClusterResolution     ErrorCode = "CLUSTER_RESOLUTION"
	ErrCodeClusterInitialization ErrorCode = "CLUSTER_INITIALIZATION"
	ErrCodeClusterNotFound       ErrorCode = "CLUSTER_NOT_FOUND"
	ErrCodeClusterExists         ErrorCode = "CLUSTER_EXISTS"

	// Registry and discovery errors
	ErrCodeDiscoveryFailed     ErrorCode = "DISCOVERY_FAILED"
	ErrCodeRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"

	// Provider errors
	ErrCodeSchemeConflict        ErrorCode = "SCHEME_CONFLICT"
	ErrCodeProviderNotFound      ErrorCode = "PROVIDER_NOT_FOUND"
	ErrCodeCapabilityUnsupported ErrorCode = "CAPABILITY_UNSUPPORTED"
	ErrCodeBackendUnsupported    ErrorCode = "BACKEND_UNSUPPORTED"

	// Filesystem operation errors
	ErrCodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	ErrCodeFileExists        ErrorCode = "FILE_EXISTS"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeHandleReleased    ErrorCode = "HANDLE_RELEASED"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Internal errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryName          ErrorCategory = "name"
	CategoryCluster       ErrorCategory = "cluster"
	CategoryRegistry      ErrorCategory = "registry"
	CategoryProvider      ErrorCategory = "provider"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeMalformedName:         CategoryName,
	ErrCodeClusterResolution:     CategoryCluster,
	ErrCodeClusterInitialization: CategoryCluster,
	ErrCodeClusterNotFound:       CategoryCluster,
	ErrCodeClusterExists:         CategoryCluster,
	ErrCodeDiscoveryFailed:       CategoryRegistry,
	ErrCodeRegistryUnavailable:   CategoryRegistry,
	ErrCodeSchemeConflict:        CategoryProvider,
	ErrCodeProviderNotFound:      CategoryProvider,
	ErrCodeCapabilityUnsupported: CategoryProvider,
	ErrCodeBackendUnsupported:    CategoryProvider,
	ErrCodeFileNotFound:          CategoryFilesystem,
	ErrCodeFileExists:            CategoryFilesystem,
	ErrCodeOperationFailed:       CategoryFilesystem,
	ErrCodeOperationCanceled:     CategoryFilesystem,
	ErrCodeHandleReleased:        CategoryFilesystem,
	ErrCodeInvalidConfig:         CategoryConfiguration,
}

// FileSystemError is the error surfaced to every namedfs caller.
type FileSystemError struct {
	Code     ErrorCode         `json:"code"`
	Category ErrorCategory     `json:"category"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`

	// Cause is not serialized
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *FileSystemError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FileSystemError) Unwrap() error {
	return e.Cause
}

// Is matches another FileSystemError with the same code.
func (e *FileSystemError) Is(target error) bool {
	if other, ok := target.(*FileSystemError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *FileSystemError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if len(e.Context) > 0 {
		ctx, _ := json.Marshal(e.Context)
		parts = append(parts, fmt.Sprintf("Context=%s", ctx))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("FileSystemError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with default values for the code.
func NewError(code ErrorCode, message string) *FileSystemError {
	return &FileSystemError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *FileSystemError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error with the given cause.
func Wrap(code ErrorCode, message string, cause error) *FileSystemError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault reports whether callers may retry an error of this code.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeClusterInitialization, ErrCodeRegistryUnavailable, ErrCodeDiscoveryFailed:
		return true
	default:
		return false
	}
}

// WithContext adds contextual information to an error
func (e *FileSystemError) WithContext(key, value string) *FileSystemError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *FileSystemError) WithComponent(component string) *FileSystemError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *FileSystemError) WithOperation(operation string) *FileSystemError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *FileSystemError) WithCause(cause error) *FileSystemError {
	e.Cause = cause
	return e
}

// WithRequestID tags the error with the request that produced it
func (e *FileSystemError) WithRequestID(id string) *FileSystemError {
	e.RequestID = id
	return e
}

// As returns the outermost FileSystemError in err's chain.
func As(err error) (*FileSystemError, bool) {
	var fsErr *FileSystemError
	if stderrors.As(err, &fsErr) {
		return fsErr, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost FileSystemError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) ErrorCode {
	if fsErr, ok := As(err); ok {
		return fsErr.Code
	}
	return ErrCodeInternalError
}

// IsCode reports whether any FileSystemError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &FileSystemError{Code: code})
}
