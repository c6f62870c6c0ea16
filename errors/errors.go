package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

type ErrorType string

const (
	ValidationError ErrorType = "VALIDATION_ERROR"
	NotFoundError   ErrorType = "NOT_FOUND"
	AuthError       ErrorType = "AUTHENTICATION_ERROR"
	PermissionError ErrorType = "PERMISSION_DENIED"
	DatabaseError   ErrorType = "DATABASE_ERROR"
	ServerError     ErrorType = "SERVER_ERROR"
	APIError        ErrorType = "API_ERROR"
	NetworkError    ErrorType = "NETWORK_ERROR"
	ConflictError   ErrorType = "CONFLICT"
)

// Category is the coarse classification used when logging failed session
// and proximity operations.
type Category string

const (
	CategoryPermission Category = "permission"
	CategoryNetwork    Category = "network"
	CategoryAPI        Category = "api"
	CategoryUnknown    Category = "unknown"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the raw cause to errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// PermissionDenied reports missing device location authorization.
func PermissionDenied(detail string) *AppError {
	return &AppError{
		Type:       PermissionError,
		Message:    "location permission not granted",
		Detail:     detail,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewAPIError describes a non-success response from a remote API.
func NewAPIError(operation string, status int, detail string) *AppError {
	return &AppError{
		Type:       APIError,
		Code:       operation,
		Message:    fmt.Sprintf("%s failed with status %d", operation, status),
		Detail:     detail,
		HTTPStatus: http.StatusBadGateway,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func NewConflictError(message string, detail string) *AppError {
	return &AppError{
		Type:       ConflictError,
		Message:    message,
		Detail:     detail,
		HTTPStatus: http.StatusConflict,
	}
}

// Categorize classifies err for diagnostic logging. It never returns an
// empty category; nil maps to CategoryUnknown.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		switch appErr.Type {
		case PermissionError, AuthError:
			return CategoryPermission
		case NetworkError:
			return CategoryNetwork
		case APIError, ValidationError, NotFoundError, ConflictError, DatabaseError:
			return CategoryAPI
		}
		if appErr.Raw != nil {
			if c := Categorize(appErr.Raw); c != CategoryUnknown {
				return c
			}
		}
		return CategoryUnknown
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) {
		return CategoryNetwork
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case AuthError:
		return http.StatusUnauthorized
	case PermissionError:
		return http.StatusForbidden
	case ConflictError:
		return http.StatusConflict
	case APIError, NetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
