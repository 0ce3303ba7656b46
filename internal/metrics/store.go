// Package metrics keeps in-process per-tenant counters for the status endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"
)

type TenantCounters struct {
	TenantID     string    `json:"tenantId"`
	Events       int64     `json:"events"`
	Duplicates   int64     `json:"duplicates"`
	Dropped      int64     `json:"dropped"`
	AlertsFired  int64     `json:"alertsFired"`
	AutoResolved int64     `json:"autoResolved"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store is safe for concurrent use. A nil *Store discards every update.
type Store struct {
	mu       sync.RWMutex
	byTenant map[string]*TenantCounters
	limit    int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{byTenant: make(map[string]*TenantCounters), limit: limit}
}

func (s *Store) update(tenantID string, fn func(c *TenantCounters)) {
	if s == nil || tenantID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byTenant[tenantID]
	if !ok {
		c = &TenantCounters{TenantID: tenantID}
		s.byTenant[tenantID] = c
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	if len(s.byTenant) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) IncEvents(tenantID string, n int) {
	s.update(tenantID, func(c *TenantCounters) { c.Events += int64(n) })
}

func (s *Store) IncDuplicate(tenantID string) {
	s.update(tenantID, func(c *TenantCounters) { c.Duplicates++ })
}

func (s *Store) IncDropped(tenantID string) {
	s.update(tenantID, func(c *TenantCounters) { c.Dropped++ })
}

func (s *Store) IncFired(tenantID string) {
	s.update(tenantID, func(c *TenantCounters) { c.AlertsFired++ })
}

func (s *Store) IncAutoResolved(tenantID string) {
	s.update(tenantID, func(c *TenantCounters) { c.AutoResolved++ })
}

func (s *Store) Get(tenantID string) (TenantCounters, bool) {
	if s == nil {
		return TenantCounters{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byTenant[tenantID]
	if !ok {
		return TenantCounters{}, false
	}
	return *c, true
}

// GetAll returns a snapshot ordered by tenant.
func (s *Store) GetAll() []TenantCounters {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]TenantCounters, 0, len(s.byTenant))
	for _, c := range s.byTenant {
		out = append(out, *c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (s *Store) evictOldest() {
	var oldestTenant string
	var oldest time.Time
	for tenant, c := range s.byTenant {
		if oldestTenant == "" || c.UpdatedAt.Before(oldest) {
			oldestTenant = tenant
			oldest = c.UpdatedAt
		}
	}
	if oldestTenant != "" {
		delete(s.byTenant, oldestTenant)
	}
}

func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTenant = make(map[string]*TenantCounters)
}
