package workflows

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"bindery/internal/platform/metrics"
	"bindery/internal/platform/models"
)

// ScriptHook is the pluggable implementation behind CUSTOM_SCRIPT actions.
type ScriptHook func(ctx context.Context, config map[string]interface{}, ec *ExecContext) (map[string]interface{}, error)

// Engine owns workflow definitions and runs executions through a
// single-threaded interpreter loop. Action dispatch is a strategy map,
// extended at runtime via RegisterActionHandler.
type Engine struct {
	store         Store
	handlers      map[models.ActionType]Handler
	sink          EventSink
	scriptHook    ScriptHook
	http          *http.Client
	actionTimeout time.Duration
	maxWait       time.Duration
	retrySleep    func(d time.Duration)
}

type Option func(*Engine)

func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithScriptHook(hook ScriptHook) Option {
	return func(e *Engine) { e.scriptHook = hook }
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.http = c }
}

func WithActionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.actionTimeout = d }
}

func WithMaxWait(d time.Duration) Option {
	return func(e *Engine) { e.maxWait = d }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		handlers:      make(map[models.ActionType]Handler),
		http:          &http.Client{Timeout: 30 * time.Second},
		actionTimeout: 30 * time.Second,
		maxWait:       5 * time.Minute,
		retrySleep:    func(d time.Duration) { time.Sleep(d) },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registerBuiltins()
	return e
}

// RegisterActionHandler installs or replaces the handler for an action type.
func (e *Engine) RegisterActionHandler(t models.ActionType, h Handler) {
	e.handlers[t] = h
}

type WorkflowInput struct {
	Name        string                           `json:"name"`
	Description string                           `json:"description"`
	Status      models.WorkflowStatus            `json:"status"`
	Trigger     models.WorkflowTrigger           `json:"trigger"`
	Actions     map[string]models.WorkflowAction `json:"actions"`
	StartAction string                           `json:"start_action_id"`
	Variables   map[string]interface{}           `json:"variables"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func (e *Engine) validate(in WorkflowInput) error {
	if in.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(in.Actions) == 0 {
		return fmt.Errorf("workflow needs at least one action")
	}
	if _, ok := in.Actions[in.StartAction]; !ok {
		return fmt.Errorf("start action %q is not defined", in.StartAction)
	}

	switch in.Trigger.Type {
	case models.TriggerEvent:
		if in.Trigger.EventType == "" {
			return fmt.Errorf("EVENT trigger requires an event type")
		}
	case models.TriggerSchedule:
		if _, err := cronParser.Parse(in.Trigger.Cron); err != nil {
			return fmt.Errorf("SCHEDULE trigger cron %q: %w", in.Trigger.Cron, err)
		}
	case models.TriggerWebhook:
		if in.Trigger.Path == "" {
			return fmt.Errorf("WEBHOOK trigger requires a path")
		}
	case models.TriggerCondition:
		if in.Trigger.Query == "" || in.Trigger.IntervalS <= 0 {
			return fmt.Errorf("CONDITION trigger requires a query and a positive interval")
		}
	case models.TriggerManual:
	default:
		return fmt.Errorf("unknown trigger type %q", in.Trigger.Type)
	}

	for id, action := range in.Actions {
		if action.ID != id {
			return fmt.Errorf("action %q has mismatched id %q", id, action.ID)
		}
		if _, ok := e.handlers[action.Type]; !ok {
			return fmt.Errorf("action %q has unregistered type %q", id, action.Type)
		}
		for _, next := range action.NextActions {
			if _, ok := in.Actions[next]; !ok {
				return fmt.Errorf("action %q points at undefined action %q", id, next)
			}
		}
		for _, branch := range action.ConditionalBranches {
			if branch.Condition == "" {
				return fmt.Errorf("action %q has a branch with an empty condition", id)
			}
			if _, ok := in.Actions[branch.NextActionID]; !ok {
				return fmt.Errorf("action %q branch points at undefined action %q", id, branch.NextActionID)
			}
		}
	}
	return nil
}

func (e *Engine) CreateWorkflow(tenantID string, in WorkflowInput) (*models.WorkflowDefinition, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if in.Status == "" {
		in.Status = models.WorkflowDraft
	}
	if err := e.validate(in); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	wf := &models.WorkflowDefinition{
		ID:            "wf_" + uuid.New().String(),
		TenantID:      tenantID,
		Name:          in.Name,
		Description:   in.Description,
		Version:       1,
		Status:        in.Status,
		Trigger:       in.Trigger,
		Actions:       in.Actions,
		StartActionID: in.StartAction,
		Variables:     in.Variables,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	log.Info().Str("workflow_id", wf.ID).Str("tenant_id", tenantID).Msg("workflow created")
	return wf, nil
}

// UpdateWorkflow replaces the definition and bumps the version.
func (e *Engine) UpdateWorkflow(id string, in WorkflowInput) (*models.WorkflowDefinition, error) {
	wf, err := e.store.GetWorkflow(id)
	if err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = wf.Status
	}
	if err := e.validate(in); err != nil {
		return nil, err
	}

	wf.Name = in.Name
	wf.Description = in.Description
	wf.Status = in.Status
	wf.Trigger = in.Trigger
	wf.Actions = in.Actions
	wf.StartActionID = in.StartAction
	wf.Variables = in.Variables
	wf.Version++
	wf.UpdatedAt = time.Now().Unix()
	if err := e.store.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (e *Engine) SetWorkflowStatus(id string, status models.WorkflowStatus) (*models.WorkflowDefinition, error) {
	switch status {
	case models.WorkflowDraft, models.WorkflowActive, models.WorkflowPaused, models.WorkflowArchived:
	default:
		return nil, fmt.Errorf("unknown workflow status %q", status)
	}
	wf, err := e.store.GetWorkflow(id)
	if err != nil {
		return nil, err
	}
	wf.Status = status
	wf.UpdatedAt = time.Now().Unix()
	if err := e.store.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (e *Engine) GetWorkflow(id string) (*models.WorkflowDefinition, error) {
	return e.store.GetWorkflow(id)
}

func (e *Engine) GetWorkflowsForTenant(tenantID string) ([]*models.WorkflowDefinition, error) {
	return e.store.ListWorkflows(tenantID)
}

func (e *Engine) GetExecutionHistory(workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	return e.store.ListExecutions(workflowID, limit)
}

func (e *Engine) GetExecution(id string) (*models.WorkflowExecution, error) {
	return e.store.GetExecution(id)
}

// ScheduledWorkflows returns ACTIVE workflows with SCHEDULE triggers,
// for the cron driver.
func (e *Engine) ScheduledWorkflows() ([]*models.WorkflowDefinition, error) {
	return e.store.ListWorkflowsByTrigger(models.TriggerSchedule)
}

// HandleEvent fires every ACTIVE EVENT-triggered workflow whose trigger
// matches the event type.
func (e *Engine) HandleEvent(ctx context.Context, event *models.WebhookEvent) []*models.WorkflowExecution {
	wfs, err := e.store.ListWorkflowsByTrigger(models.TriggerEvent)
	if err != nil {
		log.Error().Err(err).Msg("failed to list event-triggered workflows")
		return nil
	}
	var out []*models.WorkflowExecution
	for _, wf := range wfs {
		if wf.TenantID != event.TenantID || wf.Trigger.EventType != event.Type {
			continue
		}
		exec, err := e.TriggerWorkflow(ctx, wf.ID, map[string]interface{}{
			"event": map[string]interface{}{
				"id":   event.ID,
				"type": event.Type,
				"data": event.Data,
			},
		})
		if err != nil {
			log.Error().Err(err).Str("workflow_id", wf.ID).Msg("event trigger failed")
			continue
		}
		if exec != nil {
			out = append(out, exec)
		}
	}
	return out
}

// TriggerWorkflow instantiates an execution and runs the interpreter
// synchronously to completion. Triggering a workflow that is not ACTIVE
// returns nil and creates no execution.
func (e *Engine) TriggerWorkflow(ctx context.Context, workflowID string, triggerData map[string]interface{}) (*models.WorkflowExecution, error) {
	wf, err := e.store.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != models.WorkflowActive {
		log.Debug().Str("workflow_id", workflowID).Str("status", string(wf.Status)).Msg("trigger refused, workflow not active")
		return nil, nil
	}

	exec := &models.WorkflowExecution{
		ID:              "exec_" + uuid.New().String(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		TenantID:        wf.TenantID,
		Status:          models.ExecutionRunning,
		TriggerData:     triggerData,
		Variables:       copyMap(wf.Variables),
		CurrentActionID: wf.StartActionID,
		ActionResults:   make(map[string]models.ActionResult),
		StartedAt:       time.Now().Unix(),
	}
	if exec.Variables == nil {
		exec.Variables = make(map[string]interface{})
	}
	if exec.Variables["tenant_id"] == nil {
		exec.Variables["tenant_id"] = wf.TenantID
	}
	if err := e.store.SaveExecution(exec); err != nil {
		return nil, err
	}

	e.run(ctx, wf, exec)

	if err := e.store.SaveExecution(exec); err != nil {
		return nil, err
	}
	metrics.WorkflowExecutions.WithLabelValues(string(exec.Status)).Inc()
	return exec, nil
}

// run is the interpreter loop: resolve the current action, dispatch its
// handler with retries under a per-action timeout, record the result,
// and advance. Attempts within one execution are strictly sequential.
func (e *Engine) run(ctx context.Context, wf *models.WorkflowDefinition, exec *models.WorkflowExecution) {
	ec := &ExecContext{
		Variables:     exec.Variables,
		TriggerData:   exec.TriggerData,
		ActionResults: make(map[string]interface{}),
	}
	if ev, ok := exec.TriggerData["event"].(map[string]interface{}); ok {
		ec.Event = ev
	}

	for exec.CurrentActionID != "" {
		action, ok := wf.Actions[exec.CurrentActionID]
		if !ok {
			e.fail(exec, fmt.Sprintf("action %q is not defined", exec.CurrentActionID))
			return
		}

		result := e.runActionWithRetries(ctx, action, ec)
		exec.ActionResults[action.ID] = result
		ec.ActionResults[action.ID] = toInterfaceMap(result.Output)
		metrics.WorkflowActions.WithLabelValues(string(action.Type), string(result.Status)).Inc()

		if result.Status == models.ActionFailed {
			e.fail(exec, result.Error)
			return
		}

		next := ""
		if action.Type == models.ActionConditional && result.Status == models.ActionCompleted {
			next, _ = result.Output["next_action_id"].(string)
		} else if len(action.NextActions) > 0 {
			next = action.NextActions[0]
		}
		exec.CurrentActionID = next
	}

	now := time.Now().Unix()
	exec.Status = models.ExecutionCompleted
	exec.FinishedAt = &now
}

func (e *Engine) fail(exec *models.WorkflowExecution, reason string) {
	now := time.Now().Unix()
	exec.Status = models.ExecutionFailed
	exec.Error = reason
	exec.FinishedAt = &now
}

// runActionWithRetries dispatches the handler up to action.Retries+1
// times with a linearly increasing delay between attempts. On
// exhaustion the action fails hard unless on_error is "continue", which
// records a soft failure and lets the execution advance.
func (e *Engine) runActionWithRetries(ctx context.Context, action models.WorkflowAction, ec *ExecContext) models.ActionResult {
	result := models.ActionResult{
		ActionID:  action.ID,
		StartedAt: time.Now().Unix(),
	}

	var out map[string]interface{}
	var err error
	for attempt := 0; ; attempt++ {
		out, err = e.runOnce(ctx, action, ec)
		if err == nil {
			break
		}
		if attempt >= action.Retries {
			break
		}
		result.RetryCount = attempt + 1
		e.retrySleep(time.Duration(result.RetryCount) * time.Second)
	}

	result.FinishedAt = time.Now().Unix()
	result.Output = out
	if err == nil {
		result.Status = models.ActionCompleted
		return result
	}

	result.Error = err.Error()
	if action.OnError == "continue" {
		result.Status = models.ActionSoftFailed
		log.Warn().Str("action_id", action.ID).Str("error", result.Error).Msg("action soft-failed, continuing")
	} else {
		result.Status = models.ActionFailed
	}
	return result
}

// runOnce races the handler against the per-action timeout.
func (e *Engine) runOnce(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error) {
	handler, ok := e.handlers[action.Type]
	if !ok {
		return nil, fmt.Errorf("no handler registered for action type %q", action.Type)
	}

	timeout := e.actionTimeout
	if action.TimeoutMs > 0 {
		timeout = time.Duration(action.TimeoutMs) * time.Millisecond
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out map[string]interface{}
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		out, err := handler(actx, action, ec)
		ch <- outcome{out, err}
	}()

	select {
	case o := <-ch:
		return o.out, o.err
	case <-actx.Done():
		return nil, fmt.Errorf("action %s timed out after %v", action.ID, timeout)
	}
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
