package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/careerforge/careerforge-cloud/internal/fault"
)

// ErrorResponse defines the standard error response format
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error code constants used in HTTP error bodies
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeRefreshInProgress   = "REFRESH_IN_PROGRESS"
	CodeVersionConflict     = "VERSION_CONFLICT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// statusForKind maps a fault kind to the HTTP status it surfaces as.
func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindInvalidCredentials, fault.KindSessionExpired:
		return http.StatusUnauthorized
	case fault.KindRateLimited, fault.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case fault.KindRefreshInProgress, fault.KindVersionConflict:
		return http.StatusConflict
	case fault.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// codeForKind maps a fault kind to the machine-readable error code.
func codeForKind(kind fault.Kind) string {
	switch kind {
	case fault.KindValidation:
		return CodeBadRequest
	case fault.KindInvalidCredentials:
		return CodeUnauthorized
	case fault.KindSessionExpired:
		return CodeSessionExpired
	case fault.KindRateLimited:
		return CodeRateLimited
	case fault.KindQuotaExceeded:
		return CodeQuotaExceeded
	case fault.KindRefreshInProgress:
		return CodeRefreshInProgress
	case fault.KindVersionConflict:
		return CodeVersionConflict
	case fault.KindNetwork:
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}

// APIError is the error body huma serializes for failed operations. It
// implements huma.StatusError, so huma writes this model verbatim instead
// of its default RFC 7807 shape. Quota errors carry the feature and the
// current usage against its limit so clients can render the denial.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error" doc:"Human-readable error message"`
	Code    string `json:"code" doc:"Machine-readable error code"`
	Feature string `json:"feature,omitempty" doc:"Feature the quota denial applies to"`
	Used    *int   `json:"used,omitempty" doc:"Current usage count for the feature"`
	Limit   *int   `json:"limit,omitempty" doc:"Plan limit for the feature"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) GetStatus() int {
	return e.Status
}

// humaError converts an error from the core packages into the APIError
// model. Internal errors are not echoed back to the client.
func humaError(err error) error {
	kind := fault.KindOf(err)
	status := statusForKind(kind)

	msg := fault.UserMessage(err)
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}

	apiErr := &APIError{
		Status:  status,
		Message: msg,
		Code:    codeForKind(kind),
	}

	var fe *fault.Error
	if kind == fault.KindQuotaExceeded && errors.As(err, &fe) {
		apiErr.Feature = fe.Feature
		used, limit := fe.Used, fe.Limit
		apiErr.Used = &used
		apiErr.Limit = &limit
	}

	return apiErr
}

// WriteError writes a JSON error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: err.Error(),
		Code:  code,
	}

	// Ignore encoding errors - nothing we can do at this point
	_ = json.NewEncoder(w).Encode(response)
}

// WriteFault writes an error response derived from the error's fault kind.
func WriteFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	WriteError(w, err, statusForKind(kind), codeForKind(kind))
}

// WriteJSON writes a JSON response to the HTTP response writer
func WriteJSON(w http.ResponseWriter, data interface{}, statusCode int) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(data)
}
