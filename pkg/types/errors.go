package types

import (
	"errors"
	"fmt"
)

// BenchmarkError represents a classified error raised anywhere in the engine.
type BenchmarkError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// ErrorCode represents the class of a benchmark error.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates invalid task/schedule/config parameters,
	// detected before any load is generated.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrCodeTransport indicates a single request failed to reach or complete
	// against the target cluster.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrCodeFatalCluster indicates repeated consecutive transport failures;
	// the cluster is presumed unreachable and the run aborts.
	ErrCodeFatalCluster ErrorCode = "FATAL_CLUSTER_ERROR"
	// ErrCodePrecondition indicates the cluster never reached the required
	// health level within the configured timeout.
	ErrCodePrecondition ErrorCode = "PRECONDITION_ERROR"
	// ErrCodeAggregation indicates malformed or missing samples for a task,
	// reported as degraded metrics rather than silently dropped.
	ErrCodeAggregation ErrorCode = "AGGREGATION_ERROR"
	// ErrCodeData indicates a parameter source did not provide a value a
	// runner requires.
	ErrCodeData ErrorCode = "DATA_ERROR"
	// ErrCodeNotFound indicates a lookup for a registered component failed.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error implements the error interface.
func (e *BenchmarkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *BenchmarkError) Unwrap() error {
	return e.Cause
}

// NewBenchmarkError creates a new BenchmarkError.
func NewBenchmarkError(code ErrorCode, message string, cause error) *BenchmarkError {
	return &BenchmarkError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates an error for invalid parameters.
func NewConfigurationError(format string, args ...any) *BenchmarkError {
	return &BenchmarkError{
		Code:    ErrCodeConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewTransportError creates an error for a failed request against the cluster.
func NewTransportError(message string, cause error) *BenchmarkError {
	return &BenchmarkError{
		Code:    ErrCodeTransport,
		Message: message,
		Cause:   cause,
	}
}

// NewFatalClusterError creates an error for a presumed-down cluster.
func NewFatalClusterError(message string, cause error) *BenchmarkError {
	return &BenchmarkError{
		Code:    ErrCodeFatalCluster,
		Message: message,
		Cause:   cause,
	}
}

// NewPreconditionError creates an error for an unmet cluster-health precondition.
func NewPreconditionError(message string) *BenchmarkError {
	return &BenchmarkError{
		Code:    ErrCodePrecondition,
		Message: message,
	}
}

// NewAggregationError creates an error for incomplete or malformed sample data.
func NewAggregationError(message string, cause error) *BenchmarkError {
	return &BenchmarkError{
		Code:    ErrCodeAggregation,
		Message: message,
		Cause:   cause,
	}
}

// NewDataError creates an error for a missing mandatory runner parameter.
func NewDataError(format string, args ...any) *BenchmarkError {
	return &BenchmarkError{
		Code:    ErrCodeData,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewNotFoundError creates an error for a failed component lookup.
func NewNotFoundError(format string, args ...any) *BenchmarkError {
	return &BenchmarkError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// HasErrorCode reports whether err or any error in its chain carries the code.
func HasErrorCode(err error, code ErrorCode) bool {
	var be *BenchmarkError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsConfigurationError checks if the error is a configuration error.
func IsConfigurationError(err error) bool {
	return HasErrorCode(err, ErrCodeConfiguration)
}

// IsTransportError checks if the error is a transport error.
func IsTransportError(err error) bool {
	return HasErrorCode(err, ErrCodeTransport)
}

// IsFatalClusterError checks if the error is a fatal cluster error.
func IsFatalClusterError(err error) bool {
	return HasErrorCode(err, ErrCodeFatalCluster)
}

// IsPreconditionError checks if the error is a precondition error.
func IsPreconditionError(err error) bool {
	return HasErrorCode(err, ErrCodePrecondition)
}

// IsAggregationError checks if the error is an aggregation error.
func IsAggregationError(err error) bool {
	return HasErrorCode(err, ErrCodeAggregation)
}

// IsDataError checks if the error is a data error.
func IsDataError(err error) bool {
	return HasErrorCode(err, ErrCodeData)
}

// IsNotFoundError checks if the error is a not-found error.
func IsNotFoundError(err error) bool {
	return HasErrorCode(err, ErrCodeNotFound)
}

// IsFatal reports whether err must abort the whole run regardless of the
// task's error policy.
func IsFatal(err error) bool {
	var be *BenchmarkError
	if errors.As(err, &be) {
		switch be.Code {
		case ErrCodeFatalCluster, ErrCodePrecondition, ErrCodeConfiguration:
			return true
		}
	}
	return false
}
