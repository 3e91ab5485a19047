// Package errors provides structured error handling for the gateway.
package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorCode represents a gateway error kind.
type ErrorCode string

// Kinds per the object-gateway error handling design.
const (
	CodeUnparseableRange     ErrorCode = "UNPARSEABLE_RANGE"
	CodeUnsatisfiableRange   ErrorCode = "UNSATISFIABLE_RANGE"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeNotModified          ErrorCode = "NOT_MODIFIED"
	CodeOriginTransportError ErrorCode = "ORIGIN_TRANSPORT_ERROR"
	CodeCacheReadError       ErrorCode = "CACHE_READ_ERROR"
	CodeCacheWriteError      ErrorCode = "CACHE_WRITE_ERROR"
	CodeChunkedManifestInvalid ErrorCode = "CHUNKED_MANIFEST_INVALID"
	CodeSizeCapExceeded      ErrorCode = "SIZE_CAP_EXCEEDED"
	CodeConfigurationError   ErrorCode = "CONFIGURATION_ERROR"
	CodeInternal             ErrorCode = "INTERNAL"
)

// localCodes never fail a request; callers catch them, log, and advance
// to the next tier or source. See AppError.IsLocal.
var localCodes = map[ErrorCode]bool{
	CodeCacheReadError:         true,
	CodeCacheWriteError:        true,
	CodeChunkedManifestInvalid: true,
	CodeSizeCapExceeded:        true,
}

// AppError represents a gateway error with structured information.
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// StatusCode maps a Kind to the HTTP status the propagation policy names.
// UnparseableRange and UnsatisfiableRange are not mapped here: both resolve
// to a 200 full-body response at the call site, never to an error status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotModified:
		return http.StatusNotModified
	case CodeOriginTransportError:
		return http.StatusBadGateway
	case CodeConfigurationError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsLocal reports whether this error degrades cache behavior only and must
// never be allowed to fail the client-facing request.
func (e *AppError) IsLocal() bool {
	return localCodes[e.Code]
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func NewAppError(code ErrorCode, message, details string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Details:    details,
		StackTrace: getStackTrace(),
	}
}

// NewUnparseableRangeError creates an UnparseableRange error.
func NewUnparseableRangeError(raw string) *AppError {
	return NewAppError(CodeUnparseableRange, "unparseable range header", raw).
		WithMetadata("range", raw)
}

// NewUnsatisfiableRangeError creates an UnsatisfiableRange error.
func NewUnsatisfiableRangeError(raw string, size int64) *AppError {
	return NewAppError(CodeUnsatisfiableRange, "unsatisfiable range", raw).
		WithMetadata("range", raw).
		WithMetadata("size", size)
}

// NewNotFoundError creates a NotFound error for a missing object.
func NewNotFoundError(key string) *AppError {
	return NewAppError(CodeNotFound, "object not found", key).
		WithMetadata("key", key)
}

// NewNotModifiedError creates a NotModified error carrying the origin ETag.
func NewNotModifiedError(etag string) *AppError {
	return NewAppError(CodeNotModified, "not modified", "").
		WithMetadata("etag", etag)
}

// NewOriginTransportError wraps a transport-level origin failure.
func NewOriginTransportError(key string, cause error) *AppError {
	return NewAppError(CodeOriginTransportError, "origin fetch failed", key).
		WithMetadata("key", key).
		WithCause(cause)
}

// NewCacheReadError wraps a local, non-fatal cache read failure.
func NewCacheReadError(tier, key string, cause error) *AppError {
	return NewAppError(CodeCacheReadError, "cache read failed", fmt.Sprintf("%s tier, key %s", tier, key)).
		WithMetadata("tier", tier).
		WithMetadata("key", key).
		WithCause(cause)
}

// NewCacheWriteError wraps a local, non-fatal cache write failure.
func NewCacheWriteError(tier, key string, cause error) *AppError {
	return NewAppError(CodeCacheWriteError, "cache write failed", fmt.Sprintf("%s tier, key %s", tier, key)).
		WithMetadata("tier", tier).
		WithMetadata("key", key).
		WithCause(cause)
}

// NewChunkedManifestInvalidError signals a corrupt or incomplete manifest.
func NewChunkedManifestInvalidError(baseKey, reason string) *AppError {
	return NewAppError(CodeChunkedManifestInvalid, "invalid chunk manifest", reason).
		WithMetadata("base_key", baseKey)
}

// NewSizeCapExceededError signals an object too large for the cache format.
func NewSizeCapExceededError(size, cap int64) *AppError {
	return NewAppError(CodeSizeCapExceeded, "object exceeds cache size cap", "").
		WithMetadata("size", size).
		WithMetadata("cap", cap)
}

// NewConfigurationError signals a missing or invalid configuration binding.
func NewConfigurationError(details string) *AppError {
	return NewAppError(CodeConfigurationError, "configuration error", details)
}

// NewInternalError creates a generic internal error.
func NewInternalError(message string) *AppError {
	if message == "" {
		message = "an unexpected error occurred"
	}
	return NewAppError(CodeInternal, message, "")
}

// Wrap wraps an error as an internal error if it's not already an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// Is checks if an error is of a specific error code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, defaulting to Internal.
func GetCode(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeInternal
}

// IsLocal reports whether err is one of the four locally-handled kinds that
// must never propagate to the client as a failed request.
func IsLocal(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.IsLocal()
	}
	return false
}

func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var builder strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "pkg/errors") {
			builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return builder.String()
}
