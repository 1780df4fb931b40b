package apierrors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"

	// Credential errors (401xx)
	ErrUnauthorized      ErrorCode = "40101"
	ErrInvalidCredential ErrorCode = "40102"

	// Resource errors (404xx)
	ErrUserNotFound   ErrorCode = "40401"
	ErrRecordNotFound ErrorCode = "40402"

	// Rate limit errors (429xx)
	ErrQuotaExceeded ErrorCode = "42901"
	ErrRateLimited   ErrorCode = "42902"

	// Server errors (500xx)
	ErrInternalServer ErrorCode = "50001"
	ErrProvider       ErrorCode = "50201"
	ErrNoOutput       ErrorCode = "50202"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// NewErrorResponse builds the response envelope for an API error
func NewErrorResponse(err *APIError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Error:     *err,
		RequestID: requestID,
	}
}

// Common errors
var (
	ErrUnauthorizedError = &APIError{
		Code:       ErrUnauthorized,
		Message:    "Missing or invalid authorization",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidCredentialError = &APIError{
		Code:       ErrInvalidCredential,
		Message:    "Your provider API key was rejected. Enter a valid key or remove it to use the free tier.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrUserNotFoundError = &APIError{
		Code:       ErrUserNotFound,
		Message:    "User not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRecordNotFoundError = &APIError{
		Code:       ErrRecordNotFound,
		Message:    "Generation record not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrQuotaExceededError = &APIError{
		Code:       ErrQuotaExceeded,
		Message:    "Daily free generation limit reached. Add your own provider API key for unlimited use.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrProviderError = &APIError{
		Code:       ErrProvider,
		Message:    "Image provider request failed",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrNoOutputError = &APIError{
		Code:       ErrNoOutput,
		Message:    "The provider returned no usable image",
		HTTPStatus: http.StatusBadGateway,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}
