package partner

import (
	"errors"
	"sort"
	"sync"

	"bindery/internal/platform/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence boundary of the partner API manager.
type Store interface {
	SaveApplication(app *models.PartnerApplication) error
	GetApplication(id string) (*models.PartnerApplication, error)
	ListApplications(status models.ApplicationStatus) ([]*models.PartnerApplication, error)

	SaveKey(key *models.ApiKey) error
	GetKey(id string) (*models.ApiKey, error)
	GetKeyByHash(hash string) (*models.ApiKey, error)
	ListKeysByApplication(appID string) ([]*models.ApiKey, error)

	SaveQuota(q *models.UsageQuota) error
	GetQuotas(appID string) ([]*models.UsageQuota, error)

	AddUsageRecord(rec *models.UsageRecord) error
	ListUsageRecords(appID string, from, to int64) ([]*models.UsageRecord, error)

	SaveVersion(v *models.ApiVersion) error
	ListVersions() ([]*models.ApiVersion, error)
}

// MemoryStore is the in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu       sync.RWMutex
	apps     map[string]*models.PartnerApplication
	keys     map[string]*models.ApiKey
	byHash   map[string]string // key hash -> key id
	quotas   map[string]map[string]*models.UsageQuota
	usage    map[string][]*models.UsageRecord
	versions map[string]*models.ApiVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:     make(map[string]*models.PartnerApplication),
		keys:     make(map[string]*models.ApiKey),
		byHash:   make(map[string]string),
		quotas:   make(map[string]map[string]*models.UsageQuota),
		usage:    make(map[string][]*models.UsageRecord),
		versions: make(map[string]*models.ApiVersion),
	}
}

func (s *MemoryStore) SaveApplication(app *models.PartnerApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *app
	cp.CallbackURLs = append([]string(nil), app.CallbackURLs...)
	cp.RequestedScopes = append([]string(nil), app.RequestedScopes...)
	s.apps[app.ID] = &cp
	return nil
}

func (s *MemoryStore) GetApplication(id string) (*models.PartnerApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (s *MemoryStore) ListApplications(status models.ApplicationStatus) ([]*models.PartnerApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PartnerApplication
	for _, app := range s.apps {
		if status != "" && app.Status != status {
			continue
		}
		cp := *app
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) SaveKey(key *models.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	cp.Scopes = append([]string(nil), key.Scopes...)
	cp.IPAllowlist = append([]string(nil), key.IPAllowlist...)
	s.keys[key.ID] = &cp
	s.byHash[key.KeyHash] = key.ID
	return nil
}

func (s *MemoryStore) GetKey(id string) (*models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *MemoryStore) GetKeyByHash(hash string) (*models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.keys[id]
	return &cp, nil
}

func (s *MemoryStore) ListKeysByApplication(appID string) ([]*models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ApiKey
	for _, key := range s.keys {
		if key.ApplicationID != appID {
			continue
		}
		cp := *key
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) SaveQuota(q *models.UsageQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPeriod, ok := s.quotas[q.ApplicationID]
	if !ok {
		byPeriod = make(map[string]*models.UsageQuota)
		s.quotas[q.ApplicationID] = byPeriod
	}
	cp := *q
	byPeriod[q.Period] = &cp
	return nil
}

func (s *MemoryStore) GetQuotas(appID string) ([]*models.UsageQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UsageQuota
	for _, q := range s.quotas[appID] {
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (s *MemoryStore) AddUsageRecord(rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.usage[rec.ApplicationID] = append(s.usage[rec.ApplicationID], &cp)
	return nil
}

func (s *MemoryStore) ListUsageRecords(appID string, from, to int64) ([]*models.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UsageRecord
	for _, rec := range s.usage[appID] {
		if rec.Timestamp < from || rec.Timestamp > to {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveVersion(v *models.ApiVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.versions[v.Version] = &cp
	return nil
}

func (s *MemoryStore) ListVersions() ([]*models.ApiVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ApiVersion
	for _, v := range s.versions {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleasedAt < out[j].ReleasedAt })
	return out, nil
}
