package util

import (
	"errors"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeRateLimit          = "RATE_LIMIT_EXCEEDED"
	ErrCodeBotNotFound        = "BOT_NOT_FOUND"
	ErrCodeSymbolNotFound     = "SYMBOL_NOT_FOUND"
	ErrCodeBalanceUnavailable = "BALANCE_UNAVAILABLE"
	ErrCodeExchangeAuth       = "EXCHANGE_AUTH_FAILED"
	ErrCodeBotLimit           = "BOT_LIMIT_REACHED"
)

// NewAppError creates a new application error
func NewAppError(statusCode int, code, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// WrapError wraps an existing error
func WrapError(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

func ErrBadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrCodeBadRequest, message)
}

func ErrNotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, ErrCodeNotFound, message)
}

func ErrConflict(message string) *AppError {
	return NewAppError(http.StatusConflict, ErrCodeConflict, message)
}

func ErrValidation(message string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrCodeValidation, message)
}

func ErrInternalServer(message string) *AppError {
	return NewAppError(http.StatusInternalServerError, ErrCodeInternal, message)
}

func ErrRateLimit(message string) *AppError {
	return NewAppError(http.StatusTooManyRequests, ErrCodeRateLimit, message)
}

// ErrBotNotFound is returned for an unknown bot id
func ErrBotNotFound(botID string) *AppError {
	return NewAppError(http.StatusNotFound, ErrCodeBotNotFound, "bot not found: "+botID)
}

// ErrBalanceUnavailable is returned when the account balance cannot be read
func ErrBalanceUnavailable(err error) *AppError {
	return WrapError(http.StatusServiceUnavailable, ErrCodeBalanceUnavailable, "balance unavailable", err)
}

// ErrExchangeAuth is returned when the exchange rejected the credentials
func ErrExchangeAuth(err error) *AppError {
	return WrapError(http.StatusBadGateway, ErrCodeExchangeAuth, "exchange rejected the API credentials", err)
}

// GetAppError extracts AppError from error
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
