package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apiContext "bindery/internal/api/context"
	"bindery/internal/engine/partner"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/models"
)

func setupPartner(t *testing.T) (*partner.Manager, *partner.MemoryStore, string, *models.ApiKey) {
	t.Helper()
	store := partner.NewMemoryStore()
	manager := partner.NewManager(store)

	app, err := manager.RegisterApplication(partner.ApplicationInput{
		Name:            "Acme Integrations",
		PartnerEmail:    "dev@acme.example",
		Tier:            models.TierProfessional,
		RequestedScopes: []string{"events:write", "workflows:execute"},
	})
	if err != nil {
		t.Fatalf("RegisterApplication() error = %v", err)
	}
	if _, err := manager.ApproveApplication(app.ID); err != nil {
		t.Fatalf("ApproveApplication() error = %v", err)
	}
	key, plaintext, err := manager.CreateApiKey(app.ID, partner.KeyInput{
		Name:     "gateway",
		Scopes:   []string{"events:write"},
		TenantID: "tnt_1",
	})
	if err != nil {
		t.Fatalf("CreateApiKey() error = %v", err)
	}
	return manager, store, plaintext, key
}

func decodeReason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errors.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	details, _ := resp.Details.(map[string]interface{})
	reason, _ := details["reason"].(string)
	return reason
}

func TestApiKeyMiddlewareValidKey(t *testing.T) {
	manager, _, plaintext, key := setupPartner(t)
	mid := NewApiKeyMiddleware(manager)

	var gotKey *models.ApiKey
	handler := mid.Handle(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Context().Value(apiContext.ApiKey).(*models.ApiKey)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/partner/v1/events", nil)
	req.Header.Set("X-Api-Key", plaintext)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if gotKey == nil || gotKey.ID != key.ID {
		t.Errorf("context key = %+v, want %s", gotKey, key.ID)
	}
}

func TestApiKeyMiddlewareBearerFallback(t *testing.T) {
	manager, _, plaintext, _ := setupPartner(t)
	mid := NewApiKeyMiddleware(manager)

	handler := mid.Handle(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/partner/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestApiKeyMiddlewareRejections(t *testing.T) {
	manager, _, _, _ := setupPartner(t)
	mid := NewApiKeyMiddleware(manager)

	handler := mid.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with invalid key")
	})

	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantReason string
	}{
		{"missing key", "", http.StatusUnauthorized, ""},
		{"malformed key", "not-a-key", http.StatusUnauthorized, errors.ReasonMalformedKey},
		{"unknown key", "bny_0000000000000000000000000000000000000000000000000000000000000000", http.StatusUnauthorized, errors.ReasonKeyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/partner/v1/events", nil)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantReason != "" {
				if got := decodeReason(t, rec); got != tt.wantReason {
					t.Errorf("reason = %q, want %q", got, tt.wantReason)
				}
			}
		})
	}
}

func TestApiKeyMiddlewareSuspendedApplication(t *testing.T) {
	manager, _, plaintext, key := setupPartner(t)
	if _, err := manager.SuspendApplication(key.ApplicationID); err != nil {
		t.Fatalf("SuspendApplication() error = %v", err)
	}

	mid := NewApiKeyMiddleware(manager)
	handler := mid.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached for suspended application")
	})

	req := httptest.NewRequest("POST", "/partner/v1/events", nil)
	req.Header.Set("X-Api-Key", plaintext)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if got := decodeReason(t, rec); got != errors.ReasonAppNotApproved {
		t.Errorf("reason = %q, want %q", got, errors.ReasonAppNotApproved)
	}
}

func TestApiKeyMiddlewareIPAllowlist(t *testing.T) {
	store := partner.NewMemoryStore()
	manager := partner.NewManager(store)
	app, _ := manager.RegisterApplication(partner.ApplicationInput{
		Name:         "Locked Down",
		PartnerEmail: "sec@acme.example",
		Tier:         models.TierEnterprise,
	})
	manager.ApproveApplication(app.ID)
	_, plaintext, err := manager.CreateApiKey(app.ID, partner.KeyInput{
		Name:        "restricted",
		TenantID:    "tnt_1",
		IPAllowlist: []string{"10.0.0.0/8", "203.0.113.9"},
	})
	if err != nil {
		t.Fatalf("CreateApiKey() error = %v", err)
	}

	mid := NewApiKeyMiddleware(manager)
	handler := mid.Handle(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		remoteAddr string
		wantStatus int
	}{
		{"10.1.2.3:55000", http.StatusOK},
		{"203.0.113.9:44000", http.StatusOK},
		{"198.51.100.7:44000", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("POST", "/partner/v1/events", nil)
		req.Header.Set("X-Api-Key", plaintext)
		req.RemoteAddr = tt.remoteAddr
		rec := httptest.NewRecorder()
		handler(rec, req)

		if rec.Code != tt.wantStatus {
			t.Errorf("remote %s: status = %d, want %d", tt.remoteAddr, rec.Code, tt.wantStatus)
		}
	}
}

func TestRequireScope(t *testing.T) {
	manager, _, plaintext, _ := setupPartner(t) // key has events:write only
	mid := NewApiKeyMiddleware(manager)

	run := func(scope string) *httptest.ResponseRecorder {
		handler := mid.Handle(RequireScope(scope)(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest("POST", "/partner/v1/events", nil)
		req.Header.Set("X-Api-Key", plaintext)
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	if rec := run("events:write"); rec.Code != http.StatusOK {
		t.Errorf("granted scope: status = %d, want 200", rec.Code)
	}
	rec := run("workflows:execute")
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing scope: status = %d, want 403", rec.Code)
	}
	if got := decodeReason(t, rec); got != errors.ReasonMissingScope {
		t.Errorf("reason = %q, want %q", got, errors.ReasonMissingScope)
	}
}

func TestQuotaMiddleware(t *testing.T) {
	manager, store, plaintext, key := setupPartner(t)

	// Shrink the minute window so the third request is denied.
	if err := store.SaveQuota(&models.UsageQuota{
		ApplicationID: key.ApplicationID,
		Period:        "minute",
		Limit:         2,
		Used:          0,
		ResetAt:       time.Now().Add(time.Minute).Unix(),
	}); err != nil {
		t.Fatalf("SaveQuota() error = %v", err)
	}

	keyMid := NewApiKeyMiddleware(manager)
	quotaMid := NewQuotaMiddleware(manager)
	handler := keyMid.Handle(quotaMid.Handle(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/partner/v1/events", nil)
		req.Header.Set("X-Api-Key", plaintext)
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send(); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i+1, rec.Code)
		}
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-quota request: status = %d, want 429 (body: %s)", rec.Code, rec.Body.String())
	}

	// Usage was recorded for the two allowed requests with their latency
	// and status.
	stats, err := manager.GetUsageStats(key.ApplicationID, time.Now().Add(-time.Minute).Unix(), 0)
	if err != nil {
		t.Fatalf("GetUsageStats() error = %v", err)
	}
	if stats.TotalRequests != 2 {
		t.Errorf("recorded requests = %d, want 2", stats.TotalRequests)
	}
	if stats.ByStatusCode[http.StatusAccepted] != 2 {
		t.Errorf("recorded 202s = %d, want 2", stats.ByStatusCode[http.StatusAccepted])
	}
	if stats.ByEndpoint["/partner/v1/events"] != 2 {
		t.Errorf("recorded endpoint counts = %v", stats.ByEndpoint)
	}
}
