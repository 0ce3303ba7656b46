// Package definitions holds trigger definitions, loaded from a YAML file and
// kept in memory.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"alertcore/internal/condition"
	"alertcore/internal/model"
)

var ErrNotFound = errors.New("trigger not found")

// Reloader is told when a stored trigger changes and must be reloaded.
type Reloader interface {
	ReloadTrigger(ctx context.Context, tenantID, triggerID string) error
}

type Store struct {
	mu       sync.RWMutex
	triggers map[string]*model.Trigger
	reloader Reloader
}

type file struct {
	Triggers []*model.Trigger `yaml:"triggers"`
}

func NewStore() *Store {
	return &Store{triggers: make(map[string]*model.Trigger)}
}

func key(tenantID, triggerID string) string {
	return tenantID + "|" + triggerID
}

func (s *Store) SetReloader(r Reloader) {
	s.mu.Lock()
	s.reloader = r
	s.mu.Unlock()
}

// LoadFile replaces the stored triggers with the contents of path.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse triggers %s: %w", path, err)
	}
	loaded := make(map[string]*model.Trigger, len(f.Triggers))
	for _, t := range f.Triggers {
		if err := Validate(t); err != nil {
			return err
		}
		loaded[key(t.TenantID, t.ID)] = t
	}
	s.mu.Lock()
	s.triggers = loaded
	s.mu.Unlock()
	return nil
}

// Validate checks identity fields and compiles every condition in both modes.
func Validate(t *model.Trigger) error {
	if t == nil {
		return errors.New("trigger must not be nil")
	}
	if t.TenantID == "" || t.ID == "" {
		return fmt.Errorf("trigger %q: tenant_id and id are required", t.ID)
	}
	for _, mode := range []model.Mode{model.ModeFiring, model.ModeAutoResolve} {
		if _, err := condition.FromTrigger(t, mode); err != nil {
			return fmt.Errorf("trigger %s/%s: %w", t.TenantID, t.ID, err)
		}
	}
	return nil
}

func (s *Store) GetTrigger(_ context.Context, tenantID, triggerID string) (*model.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[key(tenantID, triggerID)]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (s *Store) AddTrigger(_ context.Context, t *model.Trigger) error {
	if err := Validate(t); err != nil {
		return err
	}
	s.mu.Lock()
	s.triggers[key(t.TenantID, t.ID)] = t.Clone()
	s.mu.Unlock()
	return nil
}

// UpdateTrigger replaces an existing trigger and, when reload is set, asks the
// rule engine to pick up the new definition.
func (s *Store) UpdateTrigger(ctx context.Context, tenantID string, t *model.Trigger, reload bool) error {
	if err := Validate(t); err != nil {
		return err
	}
	k := key(tenantID, t.ID)
	s.mu.Lock()
	if _, ok := s.triggers[k]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, tenantID, t.ID)
	}
	s.triggers[k] = t.Clone()
	reloader := s.reloader
	s.mu.Unlock()
	if reload && reloader != nil {
		return reloader.ReloadTrigger(ctx, tenantID, t.ID)
	}
	return nil
}

func (s *Store) RemoveTrigger(_ context.Context, tenantID, triggerID string) error {
	k := key(tenantID, triggerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, tenantID, triggerID)
	}
	delete(s.triggers, k)
	return nil
}

// AllTriggers returns copies of every trigger ordered by tenant and id.
func (s *Store) AllTriggers() []*model.Trigger {
	s.mu.RLock()
	out := make([]*model.Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].ID < out[j].ID
	})
	return out
}
