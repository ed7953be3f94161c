package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound               = errors.New("resource not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("permission denied")
	ErrBadRequest             = errors.New("bad request")
	ErrConflict               = errors.New("conflict")
	ErrInternal               = errors.New("internal error")
	ErrValidation             = errors.New("validation error")
	ErrStructural             = errors.New("structural error")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrFormValidation         = errors.New("form validation error")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNoMatchingDefinition   = errors.New("no matching case definition")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a permission denied error. It is never folded into a
// validation problem.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Structural reports a malformed state definition graph. Details carries one
// entry per violated rule.
func Structural(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrStructural,
		Message:    message,
		Code:       "STRUCTURAL_ERROR",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// InvalidTransition reports a transition that is not legal from the case's
// current step.
func InvalidTransition(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidTransition,
		Message:    message,
		Code:       "INVALID_TRANSITION",
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// FormValidation reports form data that does not satisfy a form definition.
func FormValidation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrFormValidation,
		Message:    "form data does not satisfy the transition form",
		Code:       "FORM_VALIDATION",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// ConcurrentModification reports a lost optimistic-lock race.
func ConcurrentModification(resource, id string) *AppError {
	return &AppError{
		Err:        ErrConcurrentModification,
		Message:    fmt.Sprintf("%s was modified concurrently, reload and retry", resource),
		Code:       "CONCURRENT_MODIFICATION",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// NoMatchingDefinition reports a report no active case definition matched.
func NoMatchingDefinition(reportID string) *AppError {
	return &AppError{
		Err:        ErrNoMatchingDefinition,
		Message:    "no active case definition matches the report",
		Code:       "NO_MATCHING_DEFINITION",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]string{"report_id": reportID},
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Err:        appErr.Err,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Code:       appErr.Code,
			HTTPStatus: appErr.HTTPStatus,
			Details:    appErr.Details,
		}
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Is is re-exported so callers need not import both errors packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is re-exported so callers need not import both errors packages.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// HTTPStatus returns the status code carried by err, or 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
