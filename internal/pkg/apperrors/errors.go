package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrValidation     ErrorType = "VALIDATION_ERROR"
	ErrAccess         ErrorType = "ACCESS_DENIED"
	ErrState          ErrorType = "STATE_ERROR"
	ErrExternal       ErrorType = "EXTERNAL_ERROR"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrRateLimited    ErrorType = "RATE_LIMITED"
	ErrReadOnly       ErrorType = "READ_ONLY"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application. Protocol
// packages declare their sentinel errors as *AppError values so callers keep
// errors.Is identity while the API layer recovers the kind with errors.As.
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

// Sentinel declares a package-level error of the given kind.
func Sentinel(errType ErrorType, msg string) *AppError {
	return New(errType, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

// TypeOf reports the kind of the first AppError in err's chain.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if error(appErr) == err {
			return appErr
		}
		return New(appErr.Type, err.Error(), err)
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrValidation, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAccess:
		return http.StatusForbidden
	case ErrState:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrExternal:
		return http.StatusBadGateway
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrReadOnly:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrValidation:
		return "Check order fields, nonce and balances."
	case ErrAccess:
		return "Caller lacks the required role."
	case ErrState:
		return "Retry once the blocking condition has cleared."
	case ErrRateLimited:
		return "Slow down."
	default:
		return ""
	}
}
