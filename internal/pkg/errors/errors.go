package errors

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Key validation reason codes. Gateways branch on these, so they are part
// of the API contract and must stay enumerable.
const (
	ReasonMalformedKey   = "malformed_key"
	ReasonKeyNotFound    = "key_not_found"
	ReasonKeyInactive    = "key_inactive"
	ReasonKeyRevoked     = "key_revoked"
	ReasonKeyExpired     = "key_expired"
	ReasonAppNotApproved = "application_not_approved"
	ReasonQuotaExceeded  = "quota_exceeded"
	ReasonMissingScope   = "missing_scope"
	ReasonIPNotAllowed   = "ip_not_allowed"
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}
