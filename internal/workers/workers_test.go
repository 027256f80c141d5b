package workers

import (
	"context"
	"testing"
	"time"

	"bindery/internal/engine/webhooks"
	"bindery/internal/engine/workflows"
	"bindery/internal/platform/models"
)

func scheduleInput(name, spec string) workflows.WorkflowInput {
	return workflows.WorkflowInput{
		Name: name,
		Trigger: models.WorkflowTrigger{
			Type: models.TriggerSchedule,
			Cron: spec,
		},
		StartAction: "note",
		Actions: map[string]models.WorkflowAction{
			"note": {
				ID:   "note",
				Type: models.ActionNotification,
				Config: map[string]interface{}{
					"message": "nightly run",
				},
			},
		},
	}
}

func TestSyncSchedulesTracksActiveWorkflows(t *testing.T) {
	ctx := context.Background()
	engine := workflows.NewEngine(workflows.NewMemoryStore())
	mgr := webhooks.NewManager(webhooks.NewMemoryStore())
	runner := NewRunner(mgr, engine)

	wf, err := engine.CreateWorkflow("tnt_1", scheduleInput("nightly", "0 9 * * *"))
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	runner.SyncSchedules(ctx)
	if got := runner.ScheduledEntryCount(); got != 0 {
		t.Fatalf("draft workflow scheduled: got %d entries, want 0", got)
	}

	if _, err := engine.SetWorkflowStatus(wf.ID, models.WorkflowActive); err != nil {
		t.Fatalf("SetWorkflowStatus: %v", err)
	}
	runner.SyncSchedules(ctx)
	if got := runner.ScheduledEntryCount(); got != 1 {
		t.Fatalf("active workflow not scheduled: got %d entries, want 1", got)
	}

	// Pausing the workflow must drop it from the scheduler.
	if _, err := engine.SetWorkflowStatus(wf.ID, models.WorkflowPaused); err != nil {
		t.Fatalf("SetWorkflowStatus: %v", err)
	}
	runner.SyncSchedules(ctx)
	if got := runner.ScheduledEntryCount(); got != 0 {
		t.Fatalf("paused workflow still scheduled: got %d entries, want 0", got)
	}
}

func TestStopDrainsBothLoops(t *testing.T) {
	engine := workflows.NewEngine(workflows.NewMemoryStore())
	runner := NewRunner(webhooks.NewManager(webhooks.NewMemoryStore()), engine,
		WithPumpInterval(time.Millisecond),
		WithSyncInterval(time.Millisecond),
	)

	runner.Start(context.Background())
	time.Sleep(10 * time.Millisecond) // let both loops tick at least once

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the loops")
	}
}

func TestSyncSchedulesReregistersChangedSpec(t *testing.T) {
	ctx := context.Background()
	engine := workflows.NewEngine(workflows.NewMemoryStore())
	runner := NewRunner(webhooks.NewManager(webhooks.NewMemoryStore()), engine)

	wf, err := engine.CreateWorkflow("tnt_1", scheduleInput("nightly", "0 9 * * *"))
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if _, err := engine.SetWorkflowStatus(wf.ID, models.WorkflowActive); err != nil {
		t.Fatalf("SetWorkflowStatus: %v", err)
	}

	runner.SyncSchedules(ctx)
	first := runner.entries[wf.ID]

	input := scheduleInput("nightly", "30 8 * * *")
	input.Status = models.WorkflowActive
	if _, err := engine.UpdateWorkflow(wf.ID, input); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}

	runner.SyncSchedules(ctx)
	second := runner.entries[wf.ID]
	if second.spec == first.spec {
		t.Fatalf("spec not re-registered: still %q", second.spec)
	}
	if runner.ScheduledEntryCount() != 1 {
		t.Fatalf("got %d entries, want 1", runner.ScheduledEntryCount())
	}
}
