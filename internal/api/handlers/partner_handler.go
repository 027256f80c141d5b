package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	apiContext "bindery/internal/api/context"
	"bindery/internal/engine/partner"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/models"
)

type PartnerHandler struct {
	partners *partner.Manager
}

func NewPartnerHandler(manager *partner.Manager) *PartnerHandler {
	return &PartnerHandler{partners: manager}
}

func (h *PartnerHandler) RegisterApplication(w http.ResponseWriter, r *http.Request) {
	var req partner.ApplicationInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	app, err := h.partners.RegisterApplication(req)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *PartnerHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	status := models.ApplicationStatus(r.URL.Query().Get("status"))
	apps, err := h.partners.ListApplications(status)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *PartnerHandler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.partners.GetApplication(pathParam(r, "application_id"))
	if err != nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Application not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *PartnerHandler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.partners.ApproveApplication)
}

func (h *PartnerHandler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.partners.RejectApplication)
}

func (h *PartnerHandler) SuspendApplication(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.partners.SuspendApplication)
}

func (h *PartnerHandler) transition(w http.ResponseWriter, r *http.Request, fn func(string) (*models.PartnerApplication, error)) {
	app, err := fn(pathParam(r, "application_id"))
	if err != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// CreateKey issues a key. The response is the only place the plaintext
// ever appears; granted scopes may be narrower than requested because
// scopes above the application's tier are dropped silently.
func (h *PartnerHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req partner.KeyInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	key, plaintext, err := h.partners.CreateApiKey(pathParam(r, "application_id"), req)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":              key,
		"plaintext":        plaintext,
		"granted_scopes":   key.Scopes,
		"requested_scopes": req.Scopes,
	})
}

func (h *PartnerHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.partners.ListKeys(pathParam(r, "application_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *PartnerHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	key, plaintext, err := h.partners.RotateApiKey(pathParam(r, "key_id"))
	if err != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":       key,
		"plaintext": plaintext,
	})
}

func (h *PartnerHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.partners.RevokeApiKey(pathParam(r, "key_id")); err != nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PartnerHandler) UsageStats(w http.ResponseWriter, r *http.Request) {
	appID := pathParam(r, "application_id")
	from := queryInt64(r, "from", time.Now().Add(-24*time.Hour).Unix())
	to := queryInt64(r, "to", 0)

	stats, err := h.partners.GetUsageStats(appID, from, to)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *PartnerHandler) Quotas(w http.ResponseWriter, r *http.Request) {
	quotas, err := h.partners.GetQuotas(pathParam(r, "application_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, quotas)
}

func (h *PartnerHandler) ListScopes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, partner.Catalog)
}

func (h *PartnerHandler) RegisterVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version string `json:"version"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	v, err := h.partners.RegisterVersion(req.Version, req.Status)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *PartnerHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.partners.ListVersions()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func pathParam(r *http.Request, name string) string {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName(name)
}

func queryInt64(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
