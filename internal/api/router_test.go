package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bindery/internal/api/handlers"
	"bindery/internal/api/middleware"
	"bindery/internal/engine/partner"
	"bindery/internal/engine/webhooks"
	"bindery/internal/engine/workflows"
	"bindery/internal/pkg/signing"
	"bindery/internal/platform/auth"
	"bindery/internal/platform/config"
	"bindery/internal/platform/models"
)

type testStack struct {
	router   http.Handler
	webhooks *webhooks.Manager
	partners *partner.Manager
	engine   *workflows.Engine
	tokens   *auth.TokenService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	webhookMgr := webhooks.NewManager(webhooks.NewMemoryStore())
	partnerMgr := partner.NewManager(partner.NewMemoryStore())
	engine := workflows.NewEngine(workflows.NewMemoryStore(), workflows.WithEventSink(webhookMgr))
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})

	router := NewRouter(&Dependencies{
		WebhookHandler:   handlers.NewWebhookHandler(webhookMgr),
		PartnerHandler:   handlers.NewPartnerHandler(partnerMgr),
		WorkflowHandler:  handlers.NewWorkflowHandler(engine),
		GatewayHandler:   handlers.NewGatewayHandler(webhookMgr, partnerMgr, engine),
		HealthHandler:    handlers.NewHealthHandler(nil),
		MetricsHandler:   handlers.NewMetricsHandler(),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokens),
		ApiKeyMiddleware: middleware.NewApiKeyMiddleware(partnerMgr),
		QuotaMiddleware:  middleware.NewQuotaMiddleware(partnerMgr),
	})

	return &testStack{router: router, webhooks: webhookMgr, partners: partnerMgr, engine: engine, tokens: tokens}
}

func (s *testStack) operatorToken(t *testing.T, tenantID, role string) string {
	t.Helper()
	token, err := s.tokens.GenerateAccessToken("usr_1", tenantID, role, "ops@bindery.example")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return token
}

func (s *testStack) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.ContentLength = int64(buf.Len())
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestManagementPlaneRequiresJWT(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, "GET", "/api/v1/webhooks", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = s.do(t, "GET", "/api/v1/webhooks", s.operatorToken(t, "tnt_1", "member"), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestAdminRoutesRequireRole(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, "GET", "/api/v1/partner/applications", s.operatorToken(t, "tnt_1", "member"), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("member on admin route: status = %d, want 403", rec.Code)
	}
	rec = s.do(t, "GET", "/api/v1/partner/applications", s.operatorToken(t, "tnt_1", "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin on admin route: status = %d, want 200", rec.Code)
	}
}

// The full integration path: register a webhook endpoint, approve a
// partner, then have the partner publish an event through the gateway
// and see it delivered, signed, to the endpoint.
func TestGatewayEventDelivery(t *testing.T) {
	s := newTestStack(t)
	token := s.operatorToken(t, "tnt_1", "admin")

	var captured struct {
		body      []byte
		signature string
	}
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		captured.body = buf.Bytes()
		captured.signature = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	// Register an endpoint listening for payment events.
	rec := s.do(t, "POST", "/api/v1/webhooks", token, map[string]interface{}{
		"url":    sink.URL,
		"events": []string{"payment.*"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register endpoint: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var endpoint struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	json.Unmarshal(rec.Body.Bytes(), &endpoint)
	if endpoint.Secret == "" {
		t.Fatal("registration response did not include the secret")
	}

	// Onboard a partner and issue a key bound to the tenant.
	app, err := s.partners.RegisterApplication(partner.ApplicationInput{
		Name:            "Acme Integrations",
		PartnerEmail:    "dev@acme.example",
		Tier:            models.TierStandard,
		RequestedScopes: []string{"events:write"},
	})
	if err != nil {
		t.Fatalf("RegisterApplication() error = %v", err)
	}
	if _, err := s.partners.ApproveApplication(app.ID); err != nil {
		t.Fatalf("ApproveApplication() error = %v", err)
	}
	_, plaintext, err := s.partners.CreateApiKey(app.ID, partner.KeyInput{
		Name:     "gateway",
		Scopes:   []string{"events:write"},
		TenantID: "tnt_1",
	})
	if err != nil {
		t.Fatalf("CreateApiKey() error = %v", err)
	}

	// Publish through the gateway.
	body, _ := json.Marshal(map[string]interface{}{
		"type": "payment.completed",
		"data": map[string]interface{}{"amount": 1250.50, "lease_id": "lease_7"},
	})
	req := httptest.NewRequest("POST", "/partner/v1/events", bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("X-Api-Key", plaintext)
	grec := httptest.NewRecorder()
	s.router.ServeHTTP(grec, req)
	if grec.Code != http.StatusAccepted {
		t.Fatalf("gateway emit: status = %d (body: %s)", grec.Code, grec.Body.String())
	}
	var emitResp struct {
		Deliveries int `json:"deliveries"`
	}
	json.Unmarshal(grec.Body.Bytes(), &emitResp)
	if emitResp.Deliveries != 1 {
		t.Fatalf("deliveries = %d, want 1", emitResp.Deliveries)
	}

	// Drive the pending delivery.
	if n := s.webhooks.ProcessPendingDeliveries(context.Background()); n != 1 {
		t.Fatalf("processed deliveries = %d, want 1", n)
	}
	if captured.body == nil {
		t.Fatal("endpoint never received the delivery")
	}
	if !signing.Verify(endpoint.Secret, captured.body, captured.signature) {
		t.Error("delivery signature did not verify against the registration secret")
	}
	var env struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(captured.body, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Type != "payment.completed" || env.Data["lease_id"] != "lease_7" {
		t.Errorf("envelope = %+v", env)
	}

	// The gateway recorded the partner's usage.
	stats, err := s.partners.GetUsageStats(app.ID, time.Now().Add(-time.Minute).Unix(), 0)
	if err != nil {
		t.Fatalf("GetUsageStats() error = %v", err)
	}
	if stats.TotalRequests != 1 || stats.ByEndpoint["/partner/v1/events"] != 1 {
		t.Errorf("usage stats = %+v", stats)
	}
}

func TestGatewayScopeDenied(t *testing.T) {
	s := newTestStack(t)

	app, _ := s.partners.RegisterApplication(partner.ApplicationInput{
		Name:         "No Analytics",
		PartnerEmail: "dev@acme.example",
		Tier:         models.TierStandard,
	})
	s.partners.ApproveApplication(app.ID)
	_, plaintext, _ := s.partners.CreateApiKey(app.ID, partner.KeyInput{
		Name:     "limited",
		Scopes:   []string{"events:write"},
		TenantID: "tnt_1",
	})

	// analytics:read requires ENTERPRISE and was never granted.
	req := httptest.NewRequest("GET", "/partner/v1/usage", nil)
	req.Header.Set("X-Api-Key", plaintext)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("usage without scope: status = %d, want 403", rec.Code)
	}
}

func TestGatewayWorkflowTrigger(t *testing.T) {
	s := newTestStack(t)

	app, _ := s.partners.RegisterApplication(partner.ApplicationInput{
		Name:            "Workflow Runner",
		PartnerEmail:    "dev@acme.example",
		Tier:            models.TierProfessional,
		RequestedScopes: []string{"workflows:execute"},
	})
	s.partners.ApproveApplication(app.ID)
	_, plaintext, _ := s.partners.CreateApiKey(app.ID, partner.KeyInput{
		Name:     "runner",
		Scopes:   []string{"workflows:execute"},
		TenantID: "tnt_1",
	})

	wf, err := s.engine.CreateWorkflow("tnt_1", workflows.WorkflowInput{
		Name:        "notify",
		Status:      models.WorkflowActive,
		Trigger:     models.WorkflowTrigger{Type: models.TriggerManual},
		StartAction: "notify",
		Actions: map[string]models.WorkflowAction{
			"notify": {
				ID:     "notify",
				Type:   models.ActionNotification,
				Config: map[string]interface{}{"message": "triggered by partner"},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}

	req := httptest.NewRequest("POST", "/partner/v1/workflows/"+wf.ID+"/trigger", nil)
	req.Header.Set("X-Api-Key", plaintext)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("trigger: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var exec models.WorkflowExecution
	json.Unmarshal(rec.Body.Bytes(), &exec)
	if exec.Status != models.ExecutionCompleted {
		t.Errorf("execution status = %q, want %q", exec.Status, models.ExecutionCompleted)
	}

	// A foreign tenant's workflow is invisible.
	other, _ := s.engine.CreateWorkflow("tnt_other", workflows.WorkflowInput{
		Name:        "foreign",
		Status:      models.WorkflowActive,
		Trigger:     models.WorkflowTrigger{Type: models.TriggerManual},
		StartAction: "notify",
		Actions: map[string]models.WorkflowAction{
			"notify": {ID: "notify", Type: models.ActionNotification, Config: map[string]interface{}{"message": "x"}},
		},
	})
	req = httptest.NewRequest("POST", "/partner/v1/workflows/"+other.ID+"/trigger", nil)
	req.Header.Set("X-Api-Key", plaintext)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign workflow trigger: status = %d, want 404", rec.Code)
	}
}
