package webhooks

import (
	"errors"
	"sort"
	"sync"

	"bindery/internal/platform/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence boundary of the webhook manager. Implementations
// must make each method an atomic read-modify-write unit.
type Store interface {
	SaveEndpoint(ep *models.WebhookEndpoint) error
	GetEndpoint(id string) (*models.WebhookEndpoint, error)
	ListEndpoints(tenantID string) ([]*models.WebhookEndpoint, error)
	DeleteEndpoint(id string) error

	SaveDelivery(d *models.WebhookDelivery) error
	GetDelivery(id string) (*models.WebhookDelivery, error)
	// ListDueDeliveries returns non-terminal deliveries whose next attempt
	// time has passed, oldest first.
	ListDueDeliveries(now int64, limit int) ([]*models.WebhookDelivery, error)
	ListDeliveriesByEndpoint(endpointID string, limit int) ([]*models.WebhookDelivery, error)
}

// MemoryStore is the in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu         sync.RWMutex
	endpoints  map[string]*models.WebhookEndpoint
	deliveries map[string]*models.WebhookDelivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[string]*models.WebhookEndpoint),
		deliveries: make(map[string]*models.WebhookDelivery),
	}
}

func (s *MemoryStore) SaveEndpoint(ep *models.WebhookEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	cp.Events = append([]string(nil), ep.Events...)
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEndpoint(id string) (*models.WebhookEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ep
	cp.Events = append([]string(nil), ep.Events...)
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(tenantID string) ([]*models.WebhookEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WebhookEndpoint
	for _, ep := range s.endpoints {
		if ep.TenantID != tenantID {
			continue
		}
		cp := *ep
		cp.Events = append([]string(nil), ep.Events...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) DeleteEndpoint(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return ErrNotFound
	}
	delete(s.endpoints, id)
	return nil
}

func (s *MemoryStore) SaveDelivery(d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (s *MemoryStore) GetDelivery(id string) (*models.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDelivery(d), nil
}

func (s *MemoryStore) ListDueDeliveries(now int64, limit int) ([]*models.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status.Terminal() || d.Status == models.DeliveryInProgress {
			continue
		}
		if d.NextAttempt > now {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListDeliveriesByEndpoint(endpointID string, limit int) ([]*models.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WebhookDelivery
	for _, d := range s.deliveries {
		if d.EndpointID != endpointID {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyDelivery(d *models.WebhookDelivery) *models.WebhookDelivery {
	cp := *d
	cp.Attempts = append([]models.DeliveryAttempt(nil), d.Attempts...)
	cp.Payload = append([]byte(nil), d.Payload...)
	if d.CompletedAt != nil {
		v := *d.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}
