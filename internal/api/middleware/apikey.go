package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	apiContext "bindery/internal/api/context"
	"bindery/internal/engine/partner"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/models"
)

// ApiKeyMiddleware authenticates partner gateway requests. Validation
// failures map to 401 except application-level ones, which are 403.
type ApiKeyMiddleware struct {
	partners *partner.Manager
}

func NewApiKeyMiddleware(partners *partner.Manager) *ApiKeyMiddleware {
	return &ApiKeyMiddleware{partners: partners}
}

func (m *ApiKeyMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plaintext := extractKey(r)
		if plaintext == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing API key", nil)
			return
		}

		result, err := m.partners.ValidateApiKey(plaintext)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Key validation failed", nil)
			return
		}
		if !result.Valid {
			status := http.StatusUnauthorized
			if result.Reason == errors.ReasonAppNotApproved {
				status = http.StatusForbidden
			}
			errors.WriteError(w, status, errors.ErrCodeUnauthorized, "Invalid API key", map[string]string{"reason": result.Reason})
			return
		}

		if !ipAllowed(result.Key.IPAllowlist, clientIP(r)) {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Source IP not allowed", map[string]string{"reason": errors.ReasonIPNotAllowed})
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.ApiKey, result.Key)
		ctx = context.WithValue(ctx, apiContext.Application, result.Application)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope gates a gateway route on a granted scope. Runs after
// Handle, which stores the key in the request context.
func RequireScope(scope string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := r.Context().Value(apiContext.ApiKey).(*models.ApiKey)
			if !key.HasScope(scope) {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "API key lacks required scope", map[string]string{
					"reason":         errors.ReasonMissingScope,
					"required_scope": scope,
				})
				return
			}
			next(w, r)
		}
	}
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipAllowed accepts plain IPs and CIDR ranges in the allowlist. An empty
// allowlist allows everything.
func ipAllowed(allowlist []string, ip string) bool {
	if len(allowlist) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	for _, entry := range allowlist {
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err == nil && parsed != nil && cidr.Contains(parsed) {
				return true
			}
			continue
		}
		if entry == ip {
			return true
		}
	}
	return false
}
