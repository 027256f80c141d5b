package workflows

import (
	"fmt"
	"sort"

	"bindery/internal/platform/models"
)

// Template is a ready-made workflow definition a tenant can instantiate.
// Instantiated workflows start in DRAFT so operators can adjust endpoint
// URLs and variables before activating.
type Template struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Input       WorkflowInput `json:"input"`
}

var templates = map[string]Template{
	"rent-overdue-escalation": {
		ID:          "rent-overdue-escalation",
		Name:        "Rent overdue escalation",
		Description: "Remind, warn, or escalate based on how long a rent payment is overdue",
		Input: WorkflowInput{
			Name: "Rent overdue escalation",
			Trigger: models.WorkflowTrigger{
				Type:      models.TriggerEvent,
				EventType: "payment.overdue",
			},
			StartAction: "route",
			Actions: map[string]models.WorkflowAction{
				"route": {
					ID:   "route",
					Name: "Route by days overdue",
					Type: models.ActionConditional,
					ConditionalBranches: []models.ConditionalBranch{
						{Condition: "{{event.data.days_overdue}} < 7", NextActionID: "remind"},
						{Condition: "{{event.data.days_overdue}} >= 7 && {{event.data.days_overdue}} < 30", NextActionID: "warn"},
						{Condition: "{{event.data.days_overdue}} >= 30", NextActionID: "escalate"},
					},
					NextActions: []string{"remind"},
				},
				"remind": {
					ID:   "remind",
					Name: "Send payment reminder",
					Type: models.ActionNotification,
					Config: map[string]interface{}{
						"channel": "email",
						"message": "Rent for unit {{event.data.unit_id}} is {{event.data.days_overdue}} days overdue",
					},
				},
				"warn": {
					ID:   "warn",
					Name: "Send late payment warning",
					Type: models.ActionNotification,
					Config: map[string]interface{}{
						"channel": "email",
						"message": "Late fee warning: rent for unit {{event.data.unit_id}} is {{event.data.days_overdue}} days overdue",
					},
					NextActions: []string{"record-warning"},
				},
				"record-warning": {
					ID:   "record-warning",
					Name: "Record warning event",
					Type: models.ActionEmitEvent,
					Config: map[string]interface{}{
						"event_type": "payment.warning_issued",
						"data": map[string]interface{}{
							"lease_id": "{{event.data.lease_id}}",
							"unit_id":  "{{event.data.unit_id}}",
						},
					},
				},
				"escalate": {
					ID:      "escalate",
					Name:    "Escalate to collections",
					Type:    models.ActionHTTPRequest,
					Retries: 2,
					Config: map[string]interface{}{
						"method": "POST",
						"url":    "{{variables.collections_url}}",
						"body": map[string]interface{}{
							"lease_id":     "{{event.data.lease_id}}",
							"tenant_id":    "{{variables.tenant_id}}",
							"days_overdue": "{{event.data.days_overdue}}",
						},
					},
				},
			},
			Variables: map[string]interface{}{
				"collections_url": "https://collections.example.com/api/cases",
			},
		},
	},
	"maintenance-dispatch": {
		ID:          "maintenance-dispatch",
		Name:        "Maintenance dispatch",
		Description: "Dispatch emergency maintenance requests immediately, queue the rest",
		Input: WorkflowInput{
			Name: "Maintenance dispatch",
			Trigger: models.WorkflowTrigger{
				Type:      models.TriggerEvent,
				EventType: "maintenance.requested",
			},
			StartAction: "triage",
			Actions: map[string]models.WorkflowAction{
				"triage": {
					ID:   "triage",
					Name: "Triage by priority",
					Type: models.ActionConditional,
					ConditionalBranches: []models.ConditionalBranch{
						{Condition: "{{event.data.priority}} == emergency", NextActionID: "dispatch"},
					},
					NextActions: []string{"queue"},
				},
				"dispatch": {
					ID:      "dispatch",
					Name:    "Dispatch vendor",
					Type:    models.ActionHTTPRequest,
					Retries: 3,
					Config: map[string]interface{}{
						"method": "POST",
						"url":    "{{variables.dispatch_url}}",
						"body": map[string]interface{}{
							"request_id": "{{event.data.request_id}}",
							"unit_id":    "{{event.data.unit_id}}",
							"category":   "{{event.data.category}}",
						},
					},
					NextActions: []string{"confirm"},
				},
				"queue": {
					ID:   "queue",
					Name: "Queue for next business day",
					Type: models.ActionNotification,
					Config: map[string]interface{}{
						"channel": "ops",
						"message": "Maintenance request {{event.data.request_id}} queued ({{event.data.priority}})",
					},
				},
				"confirm": {
					ID:   "confirm",
					Name: "Confirm dispatch",
					Type: models.ActionEmitEvent,
					Config: map[string]interface{}{
						"event_type": "maintenance.dispatched",
						"data": map[string]interface{}{
							"request_id": "{{event.data.request_id}}",
						},
					},
				},
			},
			Variables: map[string]interface{}{
				"dispatch_url": "https://vendors.example.com/api/dispatch",
			},
		},
	},
	"lease-renewal-reminder": {
		ID:          "lease-renewal-reminder",
		Name:        "Lease renewal reminder",
		Description: "Daily sweep for leases expiring soon, notifying property managers",
		Input: WorkflowInput{
			Name: "Lease renewal reminder",
			Trigger: models.WorkflowTrigger{
				Type: models.TriggerSchedule,
				Cron: "0 9 * * *",
			},
			StartAction: "fetch",
			Actions: map[string]models.WorkflowAction{
				"fetch": {
					ID:      "fetch",
					Name:    "Fetch expiring leases",
					Type:    models.ActionHTTPRequest,
					Retries: 2,
					Config: map[string]interface{}{
						"method": "GET",
						"url":    "{{variables.leases_url}}?expiring_within_days={{variables.window_days}}",
					},
					NextActions: []string{"notify"},
				},
				"notify": {
					ID:      "notify",
					Name:    "Notify property managers",
					Type:    models.ActionNotification,
					OnError: "continue",
					Config: map[string]interface{}{
						"channel": "email",
						"message": "Leases expiring within {{variables.window_days}} days need renewal outreach",
					},
					NextActions: []string{"record"},
				},
				"record": {
					ID:   "record",
					Name: "Record reminder sent",
					Type: models.ActionEmitEvent,
					Config: map[string]interface{}{
						"event_type": "lease.renewal_reminder_sent",
						"data": map[string]interface{}{
							"window_days": "{{variables.window_days}}",
						},
					},
				},
			},
			Variables: map[string]interface{}{
				"leases_url":  "https://api.example.com/v1/leases",
				"window_days": 60,
			},
		},
	},
}

// GetTemplates returns the bundled templates sorted by id.
func (e *Engine) GetTemplates() []Template {
	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateFromTemplate instantiates a bundled template for a tenant.
func (e *Engine) CreateFromTemplate(tenantID, templateID string) (*models.WorkflowDefinition, error) {
	t, ok := templates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", templateID)
	}
	in := t.Input
	in.Status = models.WorkflowDraft
	in.Actions = copyActions(t.Input.Actions)
	in.Variables = copyMap(t.Input.Variables)
	return e.CreateWorkflow(tenantID, in)
}

func copyActions(in map[string]models.WorkflowAction) map[string]models.WorkflowAction {
	out := make(map[string]models.WorkflowAction, len(in))
	for id, a := range in {
		a.Config = copyMap(a.Config)
		out[id] = a
	}
	return out
}
