package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	apiContext "bindery/internal/api/context"
	"bindery/internal/engine/partner"
	"bindery/internal/engine/webhooks"
	"bindery/internal/engine/workflows"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/models"
)

// GatewayHandler serves the partner-facing API. Authentication, scope
// checks, and quota enforcement happen in middleware; handlers here can
// assume a validated key in the request context.
type GatewayHandler struct {
	webhooks *webhooks.Manager
	partners *partner.Manager
	engine   *workflows.Engine
}

func NewGatewayHandler(wh *webhooks.Manager, pm *partner.Manager, eng *workflows.Engine) *GatewayHandler {
	return &GatewayHandler{webhooks: wh, partners: pm, engine: eng}
}

// PostEvent lets a partner publish a platform event into webhook
// delivery and event-triggered workflows. Requires events:write.
func (h *GatewayHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(apiContext.ApiKey).(*models.ApiKey)

	var req struct {
		Type     string                 `json:"type"`
		Data     map[string]interface{} `json:"data"`
		Metadata map[string]string      `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Type == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Event type is required", nil)
		return
	}
	if key.TenantID == "" {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "API key is not bound to a tenant", nil)
		return
	}

	event := &models.WebhookEvent{
		TenantID: key.TenantID,
		Type:     req.Type,
		Data:     req.Data,
		Metadata: req.Metadata,
	}
	deliveryIDs, err := h.webhooks.Emit(event)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	execs := h.engine.HandleEvent(r.Context(), event)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":   event.ID,
		"deliveries": len(deliveryIDs),
		"workflows":  len(execs),
	})
}

// GetUsage returns the calling application's own usage statistics.
// Requires analytics:read.
func (h *GatewayHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(apiContext.ApiKey).(*models.ApiKey)

	from := queryInt64(r, "from", time.Now().Add(-24*time.Hour).Unix())
	to := queryInt64(r, "to", 0)
	stats, err := h.partners.GetUsageStats(key.ApplicationID, from, to)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	quotas, err := h.partners.GetQuotas(key.ApplicationID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  stats,
		"quotas": quotas,
	})
}

// TriggerWorkflow runs a workflow in the key's tenant. Requires
// workflows:execute.
func (h *GatewayHandler) TriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(apiContext.ApiKey).(*models.ApiKey)

	wf, err := h.engine.GetWorkflow(pathParam(r, "workflow_id"))
	if err != nil || wf.TenantID != key.TenantID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return
	}

	var req struct {
		TriggerData map[string]interface{} `json:"trigger_data"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}

	exec, err := h.engine.TriggerWorkflow(r.Context(), wf.ID, req.TriggerData)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	if exec == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"triggered": false,
			"status":    wf.Status,
		})
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}
