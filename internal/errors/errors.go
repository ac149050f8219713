package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Beacon error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409
	ErrUnrecognizedAction ErrorCode = "UNRECOGNIZED_ACTION" // 422
	ErrInternal           ErrorCode = "INTERNAL"            // 500
	ErrPersistenceFailed  ErrorCode = "PERSISTENCE_FAILED"  // 500
	ErrDispatchFailed     ErrorCode = "DISPATCH_FAILED"     // 502
	ErrSubscriptionFailed ErrorCode = "SUBSCRIPTION_FAILED" // 503
)

// BeaconError represents a structured error with code, status, and details.
type BeaconError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *BeaconError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *BeaconError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *BeaconError {
	return &BeaconError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(kind, identifier string) *BeaconError {
	return &BeaconError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *BeaconError {
	return &BeaconError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewUnrecognizedAction creates a 422 error for an action type or integration
// service that has no registered handler.
func NewUnrecognizedAction(kind, name string) *BeaconError {
	return &BeaconError{
		Code:    ErrUnrecognizedAction,
		Status:  422,
		Message: fmt.Sprintf("unrecognized %s: %q", kind, name),
		Details: map[string]any{"kind": kind, "name": name},
	}
}

// NewSubscriptionFailed creates a 503 error when a session cannot subscribe.
func NewSubscriptionFailed(userID string, cause error) *BeaconError {
	return &BeaconError{
		Code:    ErrSubscriptionFailed,
		Status:  503,
		Message: fmt.Sprintf("subscribe to context for user %q: %v", userID, cause),
		Details: map[string]any{"user_id": userID},
		cause:   cause,
	}
}

// NewPersistenceFailed creates a 500 error when a context update could not be
// committed and was rolled back.
func NewPersistenceFailed(step string, cause error) *BeaconError {
	return &BeaconError{
		Code:    ErrPersistenceFailed,
		Status:  500,
		Message: fmt.Sprintf("context update failed at %s: %v", step, cause),
		Details: map[string]any{"step": step},
		cause:   cause,
	}
}

// NewDispatchFailed creates a 502 error when an action hook's action fails.
func NewDispatchFailed(actionType string, cause error) *BeaconError {
	return &BeaconError{
		Code:    ErrDispatchFailed,
		Status:  502,
		Message: fmt.Sprintf("%s action failed: %v", actionType, cause),
		Details: map[string]any{"action_type": actionType},
		cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *BeaconError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &BeaconError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a BeaconError with the given code.
func Is(err error, code ErrorCode) bool {
	var bErr *BeaconError
	if stderrors.As(err, &bErr) {
		return bErr.Code == code
	}
	return false
}

// As is a convenience wrapper returning the first BeaconError in err's chain.
func As(err error) (*BeaconError, bool) {
	var bErr *BeaconError
	if stderrors.As(err, &bErr) {
		return bErr, true
	}
	return nil, false
}
