package respond

import "net/http"

// Error is the error body of an API response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Error codes.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeConflict         = "CONFLICT"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodeAccountLocked    = "ACCOUNT_LOCKED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnavailable      = "UNAVAILABLE"
)

// Standard errors.
var (
	ErrUnauthorized = &Error{
		Code:    CodeUnauthorized,
		Message: "Invalid credentials",
		Status:  http.StatusUnauthorized,
	}

	ErrInvalidToken = &Error{
		Code:    CodeUnauthorized,
		Message: "Invalid or expired token",
		Status:  http.StatusUnauthorized,
	}

	ErrForbidden = &Error{
		Code:    CodeForbidden,
		Message: "Access denied",
		Status:  http.StatusForbidden,
	}

	ErrNotFound = &Error{
		Code:    CodeNotFound,
		Message: "Resource not found",
		Status:  http.StatusNotFound,
	}

	ErrInternal = &Error{
		Code:    CodeInternalError,
		Message: "Internal server error",
		Status:  http.StatusInternalServerError,
	}

	ErrRateLimited = &Error{
		Code:    CodeRateLimited,
		Message: "Too many requests",
		Status:  http.StatusTooManyRequests,
	}

	ErrAccountLocked = &Error{
		Code:    CodeAccountLocked,
		Message: "Account temporarily locked due to too many failed attempts",
		Status:  http.StatusTooManyRequests,
	}
)

// BadRequest creates a bad request error with a custom message.
func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

// Validation creates a validation error with a custom message.
func Validation(message string) *Error {
	return &Error{Code: CodeValidationFailed, Message: message, Status: http.StatusBadRequest}
}

// Conflict creates a conflict error with a custom message.
func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message, Status: http.StatusConflict}
}

// NotFound creates a not found error with a custom message.
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// Unavailable creates a 503 error. Clients may retry.
func Unavailable(message string) *Error {
	return &Error{Code: CodeUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}
