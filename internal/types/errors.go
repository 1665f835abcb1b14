package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these constants instead of
// hardcoded strings so failure handling can branch on error class.
const (
	// Backend start errors
	ErrCodeBackendInvalidTarget     ErrorCode = "backend_invalid_target"
	ErrCodeBackendInvalidParameters ErrorCode = "backend_invalid_parameters"
	ErrCodeBackendQuotaExceeded     ErrorCode = "backend_quota_exceeded"

	// Backend poll/terminate errors
	ErrCodeBackendNotFound          ErrorCode = "backend_not_found"
	ErrCodeBackendUnavailable       ErrorCode = "backend_unavailable"
	ErrCodeBackendAlreadyTerminated ErrorCode = "backend_already_terminated"

	// Workflow engine errors
	ErrCodeWorkflowPollTimeout   ErrorCode = "workflow_poll_timeout"
	ErrCodeWorkflowStepFailed    ErrorCode = "workflow_step_failed"
	ErrCodeWorkflowUnknownStep   ErrorCode = "workflow_unknown_step"
	ErrCodeWorkflowAlreadyExists ErrorCode = "workflow_execution_exists"

	// Scheduler/dispatch errors
	ErrCodeScheduleInvalidTimestamp ErrorCode = "schedule_invalid_timestamp"
	ErrCodeDispatchTerminalEvent    ErrorCode = "dispatch_event_terminal"

	// Discovery errors
	ErrCodeDiscoveryThrottled ErrorCode = "discovery_throttled"

	// Infrastructure
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeQueueSend          ErrorCode = "queue_send_failed"
	ErrCodeStatusBusPublish   ErrorCode = "status_bus_publish_failed"
)

// AppError is the standard application error type used throughout the
// platform. Domain errors are expressed as AppError so callers can branch on
// Code while preserving the underlying error chain.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) an AppError.
// Returns ErrCodeInternalUnexpected for everything else.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
