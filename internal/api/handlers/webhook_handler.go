package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "bindery/internal/api/context"
	"bindery/internal/engine/webhooks"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/auth"
	"bindery/internal/platform/models"
)

type WebhookHandler struct {
	webhooks *webhooks.Manager
}

func NewWebhookHandler(manager *webhooks.Manager) *WebhookHandler {
	return &WebhookHandler{webhooks: manager}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req webhooks.EndpointInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	endpoint, err := h.webhooks.RegisterEndpoint(claims.TenantID, req)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	// The signing secret is returned once at registration; it is not
	// included in reads.
	resp := struct {
		*models.WebhookEndpoint
		Secret string `json:"secret"`
	}{endpoint, endpoint.Secret}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	endpoints, err := h.webhooks.ListEndpoints(claims.TenantID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.tenantEndpoint(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, endpoint)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.tenantEndpoint(w, r)
	if !ok {
		return
	}

	var req webhooks.EndpointUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	updated, err := h.webhooks.UpdateEndpoint(endpoint.ID, req)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.tenantEndpoint(w, r)
	if !ok {
		return
	}
	if err := h.webhooks.DeleteEndpoint(endpoint.ID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.tenantEndpoint(w, r)
	if !ok {
		return
	}
	stats, err := h.webhooks.GetEndpointStats(endpoint.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.tenantEndpoint(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	deliveries, err := h.webhooks.ListDeliveries(endpoint.ID, limit)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}

// TestEmit publishes a synthetic event for the tenant so an endpoint
// configuration can be exercised end to end.
func (h *WebhookHandler) TestEmit(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Type == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Event type is required", nil)
		return
	}

	deliveryIDs, err := h.webhooks.Emit(&models.WebhookEvent{
		TenantID: claims.TenantID,
		Type:     req.Type,
		Data:     req.Data,
		Metadata: map[string]string{"test": "true"},
	})
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"delivery_ids": deliveryIDs,
		"deliveries":   len(deliveryIDs),
	})
}

// tenantEndpoint resolves the path endpoint and enforces tenant ownership.
func (h *WebhookHandler) tenantEndpoint(w http.ResponseWriter, r *http.Request) (*models.WebhookEndpoint, bool) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	endpoint, err := h.webhooks.GetEndpoint(params.ByName("endpoint_id"))
	if err != nil || endpoint.TenantID != claims.TenantID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook endpoint not found", nil)
		return nil, false
	}
	return endpoint, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
