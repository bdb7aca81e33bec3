package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeConfiguration represents configuration errors, fatal at startup
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeConnectivity represents DNS/TCP/TLS/5xx errors, retried at the HTTP layer
	ErrorTypeConnectivity ErrorType = "connectivity"
	// ErrorTypeProtocol represents non-2xx-after-retries or malformed payload errors
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeDataShape represents records that cannot be resolved against lookups
	ErrorTypeDataShape ErrorType = "data_shape"
	// ErrorTypeTransform represents unparseable geometry or invalid coordinates
	ErrorTypeTransform ErrorType = "transform"
	// ErrorTypeStorage represents database write and query errors
	ErrorTypeStorage ErrorType = "storage"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	// ErrorSeverityLow represents low severity errors
	ErrorSeverityLow ErrorSeverity = "low"
	// ErrorSeverityMedium represents medium severity errors
	ErrorSeverityMedium ErrorSeverity = "medium"
	// ErrorSeverityHigh represents high severity errors
	ErrorSeverityHigh ErrorSeverity = "high"
)

// PipelineError represents a structured error with additional context
type PipelineError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"cause,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New creates a new PipelineError
func New(errorType ErrorType, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Type:      errorType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying cause
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// WithDetail attaches a contextual detail
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	e.Details[key] = value
	return e
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string) *PipelineError {
	return New(ErrorTypeConfiguration, ErrorSeverityHigh, message)
}

// NewConnectivityError creates a new connectivity error
func NewConnectivityError(message string) *PipelineError {
	return New(ErrorTypeConnectivity, ErrorSeverityMedium, message)
}

// NewProtocolError creates a new protocol error
func NewProtocolError(message string) *PipelineError {
	return New(ErrorTypeProtocol, ErrorSeverityMedium, message)
}

// NewDataShapeError creates a new data-shape error
func NewDataShapeError(message string) *PipelineError {
	return New(ErrorTypeDataShape, ErrorSeverityLow, message)
}

// NewTransformError creates a new transform error
func NewTransformError(message string) *PipelineError {
	return New(ErrorTypeTransform, ErrorSeverityHigh, message)
}

// NewStorageError creates a new storage error
func NewStorageError(message string) *PipelineError {
	return New(ErrorTypeStorage, ErrorSeverityMedium, message)
}

// IsType reports whether err (or anything it wraps) is a PipelineError of the given type
func IsType(err error, errorType ErrorType) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == errorType
	}
	return false
}
