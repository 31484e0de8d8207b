package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/api/middleware"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/llm"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progress"
)

// APIError represents a structured API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// NewAPIError creates a new API error
func NewAPIError(code string, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

func ErrBadRequestWith(message string) *APIError {
	return NewAPIError("BAD_REQUEST", message)
}

func ErrNotFoundWith(resource string) *APIError {
	return NewAPIError("NOT_FOUND", resource+" not found")
}

func ErrInternalWith(message string, cause error) *APIError {
	return NewAPIError("INTERNAL_ERROR", message).WithCause(cause)
}

// ErrorResponse is the JSON structure for error responses
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Sentinel errors whose message is safe to show the client.
var errorMappings = []errorMapping{
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{domain.ErrInvalidObserverKey, http.StatusUnauthorized, "INVALID_OBSERVER_KEY"},
	{auth.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrStudentDenied, http.StatusForbidden, "STUDENT_DENIED"},
	{domain.ErrTierLocked, http.StatusForbidden, "TIER_LOCKED"},
	{domain.ErrPermissionDenied, http.StatusForbidden, "PERMISSION_DENIED"},
	{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "WEAK_PASSWORD"},
	{domain.ErrInvalidEmail, http.StatusBadRequest, "INVALID_EMAIL"},
	{domain.ErrInvalidPassword, http.StatusBadRequest, "INVALID_PASSWORD"},
	{domain.ErrInvalidMasterKey, http.StatusBadRequest, "INVALID_MASTER_KEY"},
	{domain.ErrInvalidClassCode, http.StatusBadRequest, "INVALID_CLASS_CODE"},
	{domain.ErrInvalidPasscode, http.StatusBadRequest, "INVALID_PASSCODE"},
	{domain.ErrInvalidStatus, http.StatusBadRequest, "INVALID_STATUS"},
	{domain.ErrInvalidCatalog, http.StatusBadRequest, "INVALID_CATALOG"},
	{domain.ErrInvalidTier, http.StatusBadRequest, "INVALID_TIER"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST"},
	{domain.ErrAccountExists, http.StatusConflict, "ACCOUNT_EXISTS"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{evaluation.ErrNoVerdict, http.StatusBadGateway, "NO_VERDICT"},
	{evaluation.ErrUplink, http.StatusBadGateway, "UPLINK_INTERRUPTED"},
	{progress.ErrClosed, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
}

// FromError maps a service error onto a status and envelope. Unknown errors
// become a 500 with a generic message.
func FromError(err error) (int, *APIError) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadRequest, apiErr
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, NewAPIError(m.code, err.Error()).WithCause(err)
		}
	}

	var rateLimit *llm.ErrRateLimit
	var invalid *llm.ErrInvalidResponse
	var unavailable *llm.ErrProviderUnavailable
	switch {
	case errors.As(err, &rateLimit):
		return http.StatusTooManyRequests, NewAPIError("TUTOR_RATE_LIMITED", "the tutor is busy, try again shortly").WithCause(err)
	case errors.As(err, &invalid):
		return http.StatusBadGateway, NewAPIError("TUTOR_INVALID_RESPONSE", "the tutor returned an unusable response").WithCause(err)
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, NewAPIError("TUTOR_UNAVAILABLE", "the tutor is unavailable").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, NewAPIError("TIMEOUT", "request timed out").WithCause(err)
	}
	return http.StatusInternalServerError, ErrInternalWith("an unexpected error occurred", err)
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *APIError) {
	logAttrs := []any{
		"code", apiErr.Code,
		"message", apiErr.Message,
		"status", statusCode,
		"method", r.Method,
		"path", r.URL.Path,
	}
	if apiErr.cause != nil {
		logAttrs = append(logAttrs, "cause", apiErr.cause.Error())
	}
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		logAttrs = append(logAttrs, "request_id", requestID)
	}

	if statusCode >= 500 {
		slog.Error("api error", logAttrs...)
	} else if statusCode >= 400 {
		slog.Warn("api error", logAttrs...)
	}

	WriteJSON(w, statusCode, ErrorResponse{Error: apiErr})
}

// RespondError maps err and writes it.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := FromError(err)
	WriteError(w, r, status, apiErr)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, ErrBadRequestWith(message))
}

func NotFound(w http.ResponseWriter, r *http.Request, resource string) {
	WriteError(w, r, http.StatusNotFound, ErrNotFoundWith(resource))
}

func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusForbidden, NewAPIError("FORBIDDEN", message))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, r, "invalid request body")
		return false
	}
	return true
}
