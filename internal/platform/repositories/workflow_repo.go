package repositories

import (
	"database/sql"
	"encoding/json"

	"bindery/internal/engine/workflows"
	"bindery/internal/platform/models"
)

// WorkflowRepository is the sqlite-backed workflows.Store.
type WorkflowRepository struct {
	db *sql.DB
}

var _ workflows.Store = (*WorkflowRepository)(nil)

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) SaveWorkflow(wf *models.WorkflowDefinition) error {
	triggerJSON, err := json.Marshal(wf.Trigger)
	if err != nil {
		return err
	}
	actionsJSON, err := json.Marshal(wf.Actions)
	if err != nil {
		return err
	}
	variablesJSON, err := json.Marshal(wf.Variables)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO workflows (id, tenant_id, name, description, version, status, trigger_type, trigger_config, actions, start_action_id, variables, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, version = excluded.version,
			status = excluded.status, trigger_type = excluded.trigger_type, trigger_config = excluded.trigger_config,
			actions = excluded.actions, start_action_id = excluded.start_action_id,
			variables = excluded.variables, updated_at = excluded.updated_at
	`, wf.ID, wf.TenantID, wf.Name, wf.Description, wf.Version, string(wf.Status), string(wf.Trigger.Type),
		string(triggerJSON), string(actionsJSON), wf.StartActionID, string(variablesJSON), wf.CreatedAt, wf.UpdatedAt)
	return err
}

const workflowSelect = `SELECT id, tenant_id, name, description, version, status, trigger_config, actions, start_action_id, variables, created_at, updated_at FROM workflows`

func (r *WorkflowRepository) GetWorkflow(id string) (*models.WorkflowDefinition, error) {
	return scanWorkflow(r.db.QueryRow(workflowSelect+` WHERE id = ?`, id))
}

func (r *WorkflowRepository) ListWorkflows(tenantID string) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.Query(workflowSelect+` WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

func (r *WorkflowRepository) ListWorkflowsByTrigger(trigger models.TriggerType) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.Query(workflowSelect+` WHERE status = ? AND trigger_type = ? ORDER BY created_at`,
		string(models.WorkflowActive), string(trigger))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

func (r *WorkflowRepository) SaveExecution(exec *models.WorkflowExecution) error {
	triggerDataJSON, err := json.Marshal(exec.TriggerData)
	if err != nil {
		return err
	}
	variablesJSON, err := json.Marshal(exec.Variables)
	if err != nil {
		return err
	}
	resultsJSON, err := json.Marshal(exec.ActionResults)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO workflow_executions (id, workflow_id, workflow_version, tenant_id, status, trigger_data, variables, current_action_id, action_results, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, variables = excluded.variables, current_action_id = excluded.current_action_id,
			action_results = excluded.action_results, error = excluded.error, finished_at = excluded.finished_at
	`, exec.ID, exec.WorkflowID, exec.WorkflowVersion, exec.TenantID, string(exec.Status), string(triggerDataJSON),
		string(variablesJSON), exec.CurrentActionID, string(resultsJSON), exec.Error, exec.StartedAt, nullInt64(exec.FinishedAt))
	return err
}

const executionSelect = `SELECT id, workflow_id, workflow_version, tenant_id, status, trigger_data, variables, current_action_id, action_results, error, started_at, finished_at FROM workflow_executions`

func (r *WorkflowRepository) GetExecution(id string) (*models.WorkflowExecution, error) {
	return scanExecution(r.db.QueryRow(executionSelect+` WHERE id = ?`, id))
}

func (r *WorkflowRepository) ListExecutions(workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.Query(executionSelect+` WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanWorkflow(row rowScanner) (*models.WorkflowDefinition, error) {
	wf := &models.WorkflowDefinition{}
	var description sql.NullString
	var status, triggerStr, actionsStr string
	var variablesStr sql.NullString
	err := row.Scan(&wf.ID, &wf.TenantID, &wf.Name, &description, &wf.Version, &status,
		&triggerStr, &actionsStr, &wf.StartActionID, &variablesStr, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, workflows.ErrNotFound
		}
		return nil, err
	}
	wf.Status = models.WorkflowStatus(status)
	if description.Valid {
		wf.Description = description.String
	}
	if err := json.Unmarshal([]byte(triggerStr), &wf.Trigger); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actionsStr), &wf.Actions); err != nil {
		return nil, err
	}
	if variablesStr.Valid && variablesStr.String != "" {
		if err := json.Unmarshal([]byte(variablesStr.String), &wf.Variables); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	exec := &models.WorkflowExecution{}
	var status, resultsStr string
	var triggerDataStr, variablesStr, currentActionID, execError sql.NullString
	var finishedAt sql.NullInt64
	err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.WorkflowVersion, &exec.TenantID, &status,
		&triggerDataStr, &variablesStr, &currentActionID, &resultsStr, &execError, &exec.StartedAt, &finishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, workflows.ErrNotFound
		}
		return nil, err
	}
	exec.Status = models.ExecutionStatus(status)
	if currentActionID.Valid {
		exec.CurrentActionID = currentActionID.String
	}
	if execError.Valid {
		exec.Error = execError.String
	}
	if finishedAt.Valid {
		exec.FinishedAt = &finishedAt.Int64
	}
	if triggerDataStr.Valid && triggerDataStr.String != "" {
		if err := json.Unmarshal([]byte(triggerDataStr.String), &exec.TriggerData); err != nil {
			return nil, err
		}
	}
	if variablesStr.Valid && variablesStr.String != "" {
		if err := json.Unmarshal([]byte(variablesStr.String), &exec.Variables); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(resultsStr), &exec.ActionResults); err != nil {
		return nil, err
	}
	return exec, nil
}

func collectWorkflows(rows *sql.Rows) ([]*models.WorkflowDefinition, error) {
	var wfs []*models.WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}
