package models

type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "DRAFT"
	WorkflowActive   WorkflowStatus = "ACTIVE"
	WorkflowPaused   WorkflowStatus = "PAUSED"
	WorkflowArchived WorkflowStatus = "ARCHIVED"
)

type TriggerType string

const (
	TriggerEvent     TriggerType = "EVENT"
	TriggerSchedule  TriggerType = "SCHEDULE"
	TriggerManual    TriggerType = "MANUAL"
	TriggerWebhook   TriggerType = "WEBHOOK"
	TriggerCondition TriggerType = "CONDITION"
)

type ActionType string

const (
	ActionHTTPRequest  ActionType = "HTTP_REQUEST"
	ActionWait         ActionType = "WAIT"
	ActionConditional  ActionType = "CONDITIONAL"
	ActionCustomScript ActionType = "CUSTOM_SCRIPT"
	ActionEmitEvent    ActionType = "EMIT_EVENT"
	ActionNotification ActionType = "NOTIFICATION"
)

type WorkflowTrigger struct {
	Type      TriggerType            `json:"type"`
	EventType string                 `json:"event_type,omitempty"` // EVENT
	Filter    map[string]interface{} `json:"filter,omitempty"`     // EVENT
	Cron      string                 `json:"cron,omitempty"`       // SCHEDULE
	Timezone  string                 `json:"timezone,omitempty"`   // SCHEDULE
	Path      string                 `json:"path,omitempty"`       // WEBHOOK
	Query     string                 `json:"query,omitempty"`      // CONDITION
	IntervalS int                    `json:"interval_s,omitempty"` // CONDITION
}

type ConditionalBranch struct {
	Condition    string `json:"condition"`
	NextActionID string `json:"next_action_id"`
}

type WorkflowAction struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	Type                ActionType             `json:"type"`
	Config              map[string]interface{} `json:"config"`
	NextActions         []string               `json:"next_actions,omitempty"`
	ConditionalBranches []ConditionalBranch    `json:"conditional_branches,omitempty"`
	Retries             int                    `json:"retries"`
	TimeoutMs           int64                  `json:"timeout_ms,omitempty"`
	OnError             string                 `json:"on_error,omitempty"` // "fail" (default) or "continue"
}

type WorkflowDefinition struct {
	ID            string                    `json:"id"`
	TenantID      string                    `json:"tenant_id"`
	Name          string                    `json:"name"`
	Description   string                    `json:"description,omitempty"`
	Version       int                       `json:"version"` // bumped on every update
	Status        WorkflowStatus            `json:"status"`
	Trigger       WorkflowTrigger           `json:"trigger"`
	Actions       map[string]WorkflowAction `json:"actions"` // keyed by action id
	StartActionID string                    `json:"start_action_id"`
	Variables     map[string]interface{}    `json:"variables,omitempty"`
	CreatedAt     int64                     `json:"created_at"`
	UpdatedAt     int64                     `json:"updated_at"`
}

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
	ExecutionWaiting   ExecutionStatus = "WAITING"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

type ActionResultStatus string

const (
	ActionCompleted  ActionResultStatus = "completed"
	ActionFailed     ActionResultStatus = "failed"
	ActionSoftFailed ActionResultStatus = "soft_failed" // onError=continue after retry exhaustion
)

// ActionResult is immutable once appended to an execution.
type ActionResult struct {
	ActionID   string                 `json:"action_id"`
	Status     ActionResultStatus     `json:"status"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RetryCount int                    `json:"retry_count"`
	StartedAt  int64                  `json:"started_at"`
	FinishedAt int64                  `json:"finished_at"`
}

type WorkflowExecution struct {
	ID              string                  `json:"id"`
	WorkflowID      string                  `json:"workflow_id"`
	WorkflowVersion int                     `json:"workflow_version"`
	TenantID        string                  `json:"tenant_id"`
	Status          ExecutionStatus         `json:"status"`
	TriggerData     map[string]interface{}  `json:"trigger_data,omitempty"`
	Variables       map[string]interface{}  `json:"variables"` // private copy, mutated via action outputs
	CurrentActionID string                  `json:"current_action_id,omitempty"`
	ActionResults   map[string]ActionResult `json:"action_results"`
	Error           string                  `json:"error,omitempty"`
	StartedAt       int64                   `json:"started_at"`
	FinishedAt      *int64                  `json:"finished_at,omitempty"`
}
