package workers

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"bindery/internal/engine/webhooks"
	"bindery/internal/engine/workflows"
)

// Runner drives the background side of the integration layer: the
// webhook delivery pump and the cron scheduler for SCHEDULE workflows.
type Runner struct {
	webhooks     *webhooks.Manager
	engine       *workflows.Engine
	pumpInterval time.Duration
	syncInterval time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]scheduleEntry // workflow id -> registered entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type scheduleEntry struct {
	id   cron.EntryID
	spec string
}

type RunnerOption func(*Runner)

func WithPumpInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pumpInterval = d }
}

func WithSyncInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.syncInterval = d }
}

func NewRunner(webhookMgr *webhooks.Manager, engine *workflows.Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		webhooks:     webhookMgr,
		engine:       engine,
		pumpInterval: 5 * time.Second,
		syncInterval: time.Minute,
		cron:         cron.New(),
		entries:      make(map[string]scheduleEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the pump and scheduler goroutines and returns.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.SyncSchedules(ctx)
	r.cron.Start()

	r.wg.Add(2)
	go r.pumpLoop(ctx)
	go r.syncLoop(ctx)
}

// Stop cancels the loops and waits for both of them and the cron
// scheduler to drain before returning.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.cron.Stop().Done()
	r.wg.Wait()
}

func (r *Runner) pumpLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.webhooks.ProcessPendingDeliveries(ctx); n > 0 {
				log.Debug().Int("processed", n).Msg("delivery pump cycle")
			}
		}
	}
}

func (r *Runner) syncLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SyncSchedules(ctx)
		}
	}
}

// SyncSchedules reconciles cron entries against the current set of
// ACTIVE SCHEDULE workflows: new workflows are registered, changed cron
// specs re-registered, and paused or deleted workflows dropped.
func (r *Runner) SyncSchedules(ctx context.Context) {
	wfs, err := r.engine.ScheduledWorkflows()
	if err != nil {
		log.Error().Err(err).Msg("failed to list scheduled workflows")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(wfs))
	for _, wf := range wfs {
		seen[wf.ID] = true
		spec := wf.Trigger.Cron
		if wf.Trigger.Timezone != "" {
			spec = "CRON_TZ=" + wf.Trigger.Timezone + " " + spec
		}

		if existing, ok := r.entries[wf.ID]; ok {
			if existing.spec == spec {
				continue
			}
			r.cron.Remove(existing.id)
		}

		workflowID := wf.ID
		entryID, err := r.cron.AddFunc(spec, func() {
			exec, err := r.engine.TriggerWorkflow(ctx, workflowID, map[string]interface{}{
				"scheduled_at": time.Now().Unix(),
			})
			if err != nil {
				log.Error().Err(err).Str("workflow_id", workflowID).Msg("scheduled trigger failed")
				return
			}
			if exec != nil {
				log.Info().Str("workflow_id", workflowID).Str("execution_id", exec.ID).Msg("scheduled workflow fired")
			}
		})
		if err != nil {
			log.Error().Err(err).Str("workflow_id", wf.ID).Str("cron", spec).Msg("failed to register schedule")
			continue
		}
		r.entries[wf.ID] = scheduleEntry{id: entryID, spec: spec}
	}

	for id, entry := range r.entries {
		if !seen[id] {
			r.cron.Remove(entry.id)
			delete(r.entries, id)
		}
	}
}

// ScheduledEntryCount reports how many workflows are currently registered
// with the scheduler.
func (r *Runner) ScheduledEntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
