package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API clients.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeQueueFull         = "QUEUE_FULL"
	CodeAlreadyQueued     = "ALREADY_QUEUED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAlreadyServing    = "ALREADY_SERVING"
	CodeNoneWaiting       = "NONE_WAITING"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

// NewQueueFull reports that a department reached its live ticket capacity.
func NewQueueFull(details map[string]any) error {
	return NewDomainError(CodeQueueFull, "queue is full, try another time or department", http.StatusConflict, details)
}

// NewAlreadyQueued reports that the caller already holds a live ticket for the department.
func NewAlreadyQueued(details map[string]any) error {
	return NewDomainError(CodeAlreadyQueued, "a live ticket already exists for this department", http.StatusConflict, details)
}

// NewInvalidTransition reports a lifecycle move the state machine does not allow.
func NewInvalidTransition(details map[string]any) error {
	return NewDomainError(CodeInvalidTransition, "invalid status transition", http.StatusConflict, details)
}

// NewAlreadyServing reports that the department is still serving another ticket.
func NewAlreadyServing(details map[string]any) error {
	return NewDomainError(CodeAlreadyServing, "department is already serving a ticket", http.StatusConflict, details)
}

// NewNoneWaiting reports that nobody is waiting to be called.
func NewNoneWaiting(details map[string]any) error {
	return NewDomainError(CodeNoneWaiting, "no tickets waiting", http.StatusNotFound, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err carries the given domain error code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
