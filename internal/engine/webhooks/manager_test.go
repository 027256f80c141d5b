package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bindery/internal/platform/models"
)

func testManager(t *testing.T, opts ...Option) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewManager(store, opts...), store
}

func registerTestEndpoint(t *testing.T, m *Manager, url string, events []string) *models.WebhookEndpoint {
	t.Helper()
	ep, err := m.RegisterEndpoint("tn_1", EndpointInput{URL: url, Secret: "secret", Events: events})
	if err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}
	return ep
}

func TestRegisterEndpoint_Validation(t *testing.T) {
	m, _ := testManager(t)

	if _, err := m.RegisterEndpoint("tn_1", EndpointInput{URL: "not-a-url", Events: []string{"*"}}); err == nil {
		t.Error("expected error for invalid url")
	}
	if _, err := m.RegisterEndpoint("tn_1", EndpointInput{URL: "https://example.com/hook"}); err == nil {
		t.Error("expected error for empty event list")
	}
	if _, err := m.RegisterEndpoint("", EndpointInput{URL: "https://example.com/hook", Events: []string{"*"}}); err == nil {
		t.Error("expected error for missing tenant")
	}

	ep, err := m.RegisterEndpoint("tn_1", EndpointInput{URL: "https://example.com/hook", Events: []string{"*"}})
	if err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}
	if ep.Secret == "" {
		t.Error("expected a generated secret")
	}
	if !ep.Enabled {
		t.Error("new endpoint should be enabled")
	}
}

func TestEmit_MatchingRules(t *testing.T) {
	m, _ := testManager(t)
	registerTestEndpoint(t, m, "https://example.com/hook", []string{"payment.*"})

	ids, err := m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "payment.completed"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("payment.completed deliveries = %d, want 1", len(ids))
	}

	ids, err = m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "lease.created"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("lease.created deliveries = %d, want 0", len(ids))
	}
}

func TestEmit_SkipsDisabledAndForeignTenant(t *testing.T) {
	m, _ := testManager(t)
	ep := registerTestEndpoint(t, m, "https://example.com/hook", []string{"*"})

	disabled := false
	if _, err := m.UpdateEndpoint(ep.ID, EndpointUpdate{Enabled: &disabled}); err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	ids, _ := m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "payment.completed"})
	if len(ids) != 0 {
		t.Errorf("disabled endpoint still received a delivery")
	}

	enabled := true
	m.UpdateEndpoint(ep.ID, EndpointUpdate{Enabled: &enabled})
	ids, _ = m.Emit(&models.WebhookEvent{TenantID: "tn_other", Type: "payment.completed"})
	if len(ids) != 0 {
		t.Errorf("endpoint received a delivery for another tenant's event")
	}
}

func TestAttemptDelivery_Success(t *testing.T) {
	var gotID, gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Webhook-Id")
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotTS = r.Header.Get("X-Webhook-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	m, store := testManager(t, WithHTTPClient(srv.Client()))
	registerTestEndpoint(t, m, srv.URL, []string{"*"})

	ids, _ := m.Emit(&models.WebhookEvent{
		TenantID: "tn_1",
		Type:     "payment.completed",
		Data:     map[string]interface{}{"amount": 125000},
	})
	if len(ids) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(ids))
	}

	n := m.ProcessPendingDeliveries(context.Background())
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	d, err := store.GetDelivery(ids[0])
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if d.Status != models.DeliveryDelivered {
		t.Errorf("status = %s, want DELIVERED", d.Status)
	}
	if len(d.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(d.Attempts))
	}
	if d.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if gotID != d.ID {
		t.Errorf("X-Webhook-Id = %q, want %q", gotID, d.ID)
	}
	if gotTS == "" {
		t.Error("X-Webhook-Timestamp missing")
	}
	if !VerifySignature(gotBody, gotSig, "secret") {
		t.Error("delivery signature did not verify")
	}

	var env map[string]interface{}
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("payload not valid json: %v", err)
	}
	for _, field := range []string{"id", "type", "timestamp", "data"} {
		if _, ok := env[field]; !ok {
			t.Errorf("payload missing %q field", field)
		}
	}

	// A delivered delivery is terminal: nothing further to process.
	if n := m.ProcessPendingDeliveries(context.Background()); n != 0 {
		t.Errorf("reprocessed a delivered delivery (%d)", n)
	}
}

func TestAttemptDelivery_RetriesThenExhausts(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(503)
	}))
	defer srv.Close()

	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 3
	m, store := testManager(t, WithHTTPClient(srv.Client()), WithRetryPolicy(policy))
	registerTestEndpoint(t, m, srv.URL, []string{"*"})

	ids, _ := m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "payment.completed"})
	d, _ := store.GetDelivery(ids[0])

	for i := 0; i < policy.MaxAttempts; i++ {
		if err := m.AttemptDelivery(context.Background(), d); err != nil {
			t.Fatalf("AttemptDelivery: %v", err)
		}
		d, _ = store.GetDelivery(ids[0])
	}

	if hits != policy.MaxAttempts {
		t.Errorf("server hits = %d, want %d", hits, policy.MaxAttempts)
	}
	if d.Status != models.DeliveryExhausted {
		t.Errorf("status = %s, want EXHAUSTED", d.Status)
	}
	if len(d.Attempts) != policy.MaxAttempts {
		t.Errorf("attempts = %d, want %d", len(d.Attempts), policy.MaxAttempts)
	}
	if d.CompletedAt == nil {
		t.Error("completed_at not set on exhaustion")
	}

	// Terminal: further attempts are no-ops.
	m.AttemptDelivery(context.Background(), d)
	d, _ = store.GetDelivery(ids[0])
	if len(d.Attempts) != policy.MaxAttempts {
		t.Errorf("attempt recorded after exhaustion")
	}
}

func TestAttemptDelivery_RetrySchedulesBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	m, store := testManager(t, WithHTTPClient(srv.Client()))
	registerTestEndpoint(t, m, srv.URL, []string{"*"})

	ids, _ := m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "payment.completed"})
	d, _ := store.GetDelivery(ids[0])
	m.AttemptDelivery(context.Background(), d)

	d, _ = store.GetDelivery(ids[0])
	if d.Status != models.DeliveryRetrying {
		t.Fatalf("status = %s, want RETRYING", d.Status)
	}
	if d.NextAttempt <= time.Now().Unix()-1 {
		t.Errorf("next attempt not scheduled in the future: %d", d.NextAttempt)
	}
	if d.Attempts[0].StatusCode != 500 {
		t.Errorf("attempt status code = %d, want 500", d.Attempts[0].StatusCode)
	}
}

func TestAttemptDelivery_NonRetryable4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(410)
	}))
	defer srv.Close()

	m, store := testManager(t, WithHTTPClient(srv.Client()))
	registerTestEndpoint(t, m, srv.URL, []string{"*"})

	ids, _ := m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "payment.completed"})
	d, _ := store.GetDelivery(ids[0])
	m.AttemptDelivery(context.Background(), d)

	d, _ = store.GetDelivery(ids[0])
	if d.Status != models.DeliveryExhausted {
		t.Errorf("status = %s, want EXHAUSTED", d.Status)
	}
	if len(d.Attempts) != 1 {
		t.Errorf("attempts = %d, want exactly 1 for a permanent failure", len(d.Attempts))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		code int
		err  error
		want outcome
	}{
		{"200 delivered", 200, nil, outcomeDelivered},
		{"204 delivered", 204, nil, outcomeDelivered},
		{"503 retryable", 503, nil, outcomeRetryable},
		{"429 retryable", 429, nil, outcomeRetryable},
		{"408 retryable", 408, nil, outcomeRetryable},
		{"404 permanent", 404, nil, outcomePermanent},
		{"400 permanent", 400, nil, outcomePermanent},
		{"network error retryable", 0, context.DeadlineExceeded, outcomeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.code, tt.err); got != tt.want {
				t.Errorf("classify(%d, %v) = %v, want %v", tt.code, tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{13, time.Hour}, // 2^12 s > 1h, capped
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestGetEndpointStats(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer okSrv.Close()

	m, store := testManager(t, WithHTTPClient(okSrv.Client()))
	ep := registerTestEndpoint(t, m, okSrv.URL, []string{"*"})

	for i := 0; i < 3; i++ {
		m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "lease.created"})
	}
	m.ProcessPendingDeliveries(context.Background())

	// One more left pending.
	ids, _ := m.Emit(&models.WebhookEvent{TenantID: "tn_1", Type: "lease.created"})
	_ = ids

	stats, err := m.GetEndpointStats(ep.ID)
	if err != nil {
		t.Fatalf("GetEndpointStats: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.Delivered != 3 {
		t.Errorf("delivered = %d, want 3", stats.Delivered)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
	if stats.SuccessRate != 0.75 {
		t.Errorf("success rate = %v, want 0.75", stats.SuccessRate)
	}

	if _, err := m.GetEndpointStats("ep_missing"); err == nil {
		t.Error("expected error for unknown endpoint")
	}

	if err := store.DeleteEndpoint(ep.ID); err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}
}
