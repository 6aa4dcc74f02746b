package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Gateway errors
	ErrCodeGateway      ErrorCode = "GATEWAY_ERROR"
	ErrCodeGatewayAuth  ErrorCode = "GATEWAY_AUTH_ERROR"
	ErrCodeTokenRefresh ErrorCode = "TOKEN_REFRESH_FAILED"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"

	// Stream errors
	ErrCodeStream   ErrorCode = "STREAM_ERROR"
	ErrCodeBadEntry ErrorCode = "MALFORMED_ENTRY"

	// Data-integrity gaps
	ErrCodeAccountNotFound ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrCodeUserNotFound    ErrorCode = "USER_NOT_FOUND"
	ErrCodeRuleNotFound    ErrorCode = "RULE_NOT_FOUND"

	// View errors
	ErrCodeViewUnavailable ErrorCode = "VIEW_UNAVAILABLE"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError represents a structured application error with code and message
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// GatewayError wraps a marketplace API failure
func GatewayError(message string, err error) *AppError {
	return Wrap(ErrCodeGateway, message, err)
}

// TokenRefreshError wraps a failed OAuth token refresh
func TokenRefreshError(err error) *AppError {
	return Wrap(ErrCodeTokenRefresh, "token refresh failed", err)
}

// AccountNotFoundError reports a missing marketplace account
func AccountNotFoundError(accountID int64) *AppError {
	return New(ErrCodeAccountNotFound, fmt.Sprintf("account %d not found", accountID))
}

// BadEntryError reports a malformed stream entry
func BadEntryError(message string) *AppError {
	return New(ErrCodeBadEntry, message)
}

// DatabaseError wraps a relational store failure
func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeDatabase, "database error", err)
}

// HasCode reports whether err carries the given application error code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}
