package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bindery/internal/platform/auth"
	"bindery/internal/platform/config"
)

func TestAuthMiddlewareTenantBinding(t *testing.T) {
	svc := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})
	mid := NewAuthMiddleware(svc)
	handler := mid.Handle(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	bound, err := svc.GenerateAccessToken("usr_1", "tnt_1", "admin", "ops@bindery.example")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	unbound, err := svc.GenerateAccessToken("usr_1", "", "admin", "ops@bindery.example")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"bound token", "Bearer " + bound, http.StatusOK},
		{"token without tenant", "Bearer " + unbound, http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"not a bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
