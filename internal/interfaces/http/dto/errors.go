package dto

import (
	"net/http"

	"github.com/xammer/billops/internal/domain/shared"
)

// Transport-level error codes. Domain codes are passed through unchanged.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

var errorCodeHTTPStatus = map[string]int{
	ErrCodeValidation:              http.StatusBadRequest,
	ErrCodeBadRequest:              http.StatusBadRequest,
	ErrCodeUnauthorized:            http.StatusUnauthorized,
	ErrCodeForbidden:               http.StatusForbidden,
	ErrCodeRequestTooLarge:         http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:             http.StatusTooManyRequests,
	ErrCodeInternal:                http.StatusInternalServerError,
	shared.CodeInvalidInput:        http.StatusBadRequest,
	shared.CodeUnsupportedFormat:   http.StatusBadRequest,
	shared.CodeMissingColumns:      http.StatusBadRequest,
	shared.CodeNotFound:            http.StatusNotFound,
	shared.CodeConcurrencyConflict: http.StatusConflict,
	shared.CodeInvalidState:        http.StatusUnprocessableEntity,
	shared.CodeProviderUnavailable: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status for an error code, 500 when the
// code is unknown.
func GetHTTPStatus(code string) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
