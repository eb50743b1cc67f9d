package models

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"meme-coin-aggregator/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorCode is the machine readable code carried in every error envelope.
type ErrorCode string

const (
	ErrorCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrorCodeInvalidAddress      ErrorCode = "INVALID_TOKEN_ADDRESS"
	ErrorCodeMissingQuery        ErrorCode = "MISSING_QUERY"
	ErrorCodeTokenNotFound       ErrorCode = "TOKEN_NOT_FOUND"
	ErrorCodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrorCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ErrorResponse is the error envelope returned by every endpoint
type ErrorResponse struct {
	Success       bool        `json:"success"`
	Error         ErrorDetail `json:"error"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// HTTPStatusCode maps an error code onto the HTTP status it is served with.
func (e ErrorCode) HTTPStatusCode() int {
	switch e {
	case ErrorCodeInvalidRequest, ErrorCodeInvalidAddress, ErrorCodeMissingQuery:
		return http.StatusBadRequest
	case ErrorCodeTokenNotFound:
		return http.StatusNotFound
	case ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorCodeUpstreamUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func NewErrorResponse(code ErrorCode, message, details, correlationID string) *ErrorResponse {
	return &ErrorResponse{
		Error:         ErrorDetail{Code: code, Message: message, Details: details},
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// AppError is an error that knows how it should be presented to API clients.
// Message and Details are client facing; Cause is only logged.
type AppError struct {
	Code       ErrorCode
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// NewAppError builds an AppError whose status follows from code.
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: code.HTTPStatusCode()}
}

func (e *AppError) withCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) withDetails(details string) *AppError {
	e.Details = details
	return e
}

func NewValidationError(message, details string) *AppError {
	return NewAppError(ErrorCodeInvalidRequest, message).withDetails(details)
}

// NewInvalidAddressError echoes the rejected address back in the details.
func NewInvalidAddressError(address string, cause error) *AppError {
	return NewAppError(ErrorCodeInvalidAddress, "Invalid token address").withDetails(address).withCause(cause)
}

func NewNotFoundError(address string) *AppError {
	return NewAppError(ErrorCodeTokenNotFound, "Token not found").withDetails(address)
}

func NewRateLimitError(details string) *AppError {
	return NewAppError(ErrorCodeRateLimitExceeded, "Rate limit exceeded").withDetails(details)
}

// NewUpstreamError is returned when no token source could answer.
func NewUpstreamError(message string, cause error) *AppError {
	return NewAppError(ErrorCodeUpstreamUnavailable, message).withCause(cause)
}

// HandleError writes the error envelope for err. Errors that are not an
// *AppError are hidden behind a generic 500. Server faults log at error
// level and client faults at warn; log may be nil.
func HandleError(c *gin.Context, err error, log *logger.Logger) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewAppError(ErrorCodeInternalError, "Internal server error").withCause(err)
	}

	correlationID := c.GetString(string(logger.CorrelationIDKey))
	if correlationID == "" {
		correlationID = logger.GetCorrelationIDFromContext(c.Request.Context())
	}

	if log != nil {
		fields := []zap.Field{
			zap.String("error_code", string(appErr.Code)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		}
		if appErr.Cause != nil {
			fields = append(fields, zap.Error(appErr.Cause))
		}
		l := log.WithContext(c.Request.Context())
		if appErr.StatusCode >= http.StatusInternalServerError {
			l.Error(appErr.Message, fields...)
		} else {
			l.Warn(appErr.Message, fields...)
		}
	}

	c.JSON(appErr.StatusCode, NewErrorResponse(appErr.Code, appErr.Message, appErr.Details, correlationID))
}
