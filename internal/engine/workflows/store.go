package workflows

import (
	"errors"
	"sort"
	"sync"

	"bindery/internal/platform/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence boundary of the workflow engine.
type Store interface {
	SaveWorkflow(wf *models.WorkflowDefinition) error
	GetWorkflow(id string) (*models.WorkflowDefinition, error)
	ListWorkflows(tenantID string) ([]*models.WorkflowDefinition, error)
	// ListWorkflowsByTrigger returns ACTIVE workflows with the given
	// trigger type across all tenants, for the scheduler and event fan-out.
	ListWorkflowsByTrigger(trigger models.TriggerType) ([]*models.WorkflowDefinition, error)

	SaveExecution(exec *models.WorkflowExecution) error
	GetExecution(id string) (*models.WorkflowExecution, error)
	ListExecutions(workflowID string, limit int) ([]*models.WorkflowExecution, error)
}

// MemoryStore is the in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*models.WorkflowDefinition
	executions map[string]*models.WorkflowExecution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*models.WorkflowDefinition),
		executions: make(map[string]*models.WorkflowExecution),
	}
}

func (s *MemoryStore) SaveWorkflow(wf *models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *MemoryStore) GetWorkflow(id string) (*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWorkflow(wf), nil
}

func (s *MemoryStore) ListWorkflows(tenantID string) ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowDefinition
	for _, wf := range s.workflows {
		if wf.TenantID != tenantID {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) ListWorkflowsByTrigger(trigger models.TriggerType) ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowDefinition
	for _, wf := range s.workflows {
		if wf.Status != models.WorkflowActive || wf.Trigger.Type != trigger {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) SaveExecution(exec *models.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = copyExecution(exec)
	return nil
}

func (s *MemoryStore) GetExecution(id string) (*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(exec), nil
}

func (s *MemoryStore) ListExecutions(workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowExecution
	for _, exec := range s.executions {
		if exec.WorkflowID != workflowID {
			continue
		}
		out = append(out, copyExecution(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyWorkflow(wf *models.WorkflowDefinition) *models.WorkflowDefinition {
	cp := *wf
	cp.Actions = make(map[string]models.WorkflowAction, len(wf.Actions))
	for id, a := range wf.Actions {
		cp.Actions[id] = a
	}
	cp.Variables = copyMap(wf.Variables)
	return &cp
}

func copyExecution(exec *models.WorkflowExecution) *models.WorkflowExecution {
	cp := *exec
	cp.Variables = copyMap(exec.Variables)
	cp.TriggerData = copyMap(exec.TriggerData)
	cp.ActionResults = make(map[string]models.ActionResult, len(exec.ActionResults))
	for id, r := range exec.ActionResults {
		cp.ActionResults[id] = r
	}
	if exec.FinishedAt != nil {
		v := *exec.FinishedAt
		cp.FinishedAt = &v
	}
	return &cp
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
