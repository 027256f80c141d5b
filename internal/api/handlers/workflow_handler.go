package handlers

import (
	"encoding/json"
	"net/http"

	apiContext "bindery/internal/api/context"
	"bindery/internal/engine/workflows"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/auth"
	"bindery/internal/platform/models"
)

type WorkflowHandler struct {
	engine *workflows.Engine
}

func NewWorkflowHandler(engine *workflows.Engine) *WorkflowHandler {
	return &WorkflowHandler{engine: engine}
}

func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req workflows.WorkflowInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	wf, err := h.engine.CreateWorkflow(claims.TenantID, req)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	wfs, err := h.engine.GetWorkflowsForTenant(claims.TenantID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.tenantWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.tenantWorkflow(w, r)
	if !ok {
		return
	}

	var req workflows.WorkflowInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	updated, err := h.engine.UpdateWorkflow(wf.ID, req)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *WorkflowHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.tenantWorkflow(w, r)
	if !ok {
		return
	}

	var req struct {
		Status models.WorkflowStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	updated, err := h.engine.SetWorkflowStatus(wf.ID, req.Status)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Trigger starts an execution. A workflow that is not ACTIVE is not an
// error: the response says no execution was created.
func (h *WorkflowHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.tenantWorkflow(w, r)
	if !ok {
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

func (h *WorkflowHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.tenantWorkflow(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	execs, err := h.engine.GetExecutionHistory(wf.ID, limit)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (h *WorkflowHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	exec, err := h.engine.GetExecution(pathParam(r, "execution_id"))
	if err != nil || exec.TenantID != claims.TenantID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Execution not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *WorkflowHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetTemplates())
}

func (h *WorkflowHandler) CreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	wf, err := h.engine.CreateFromTemplate(claims.TenantID, pathParam(r, "template_id"))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *WorkflowHandler) tenantWorkflow(w http.ResponseWriter, r *http.Request) (*models.WorkflowDefinition, bool) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	wf, err := h.engine.GetWorkflow(pathParam(r, "workflow_id"))
	if err != nil || wf.TenantID != claims.TenantID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return nil, false
	}
	return wf, true
}
