package variables

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with maps guarded per scope, so writers to
// different participants never contend.
type MemoryStore struct {
	opts   options
	scopes map[Scope]*scopeVars
	mu     sync.Mutex
}

type scopeVars struct {
	vars map[string]*Variable
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory variable store
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:   buildOptions(opts),
		scopes: make(map[Scope]*scopeVars),
	}
}

func (s *MemoryStore) scope(scope Scope, create bool) *scopeVars {
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, ok := s.scopes[scope]
	if !ok && create {
		sv = &scopeVars{vars: make(map[string]*Variable)}
		s.scopes[scope] = sv
	}
	return sv
}

// Get returns a copy of the stored variable
func (s *MemoryStore) Get(_ context.Context, scope Scope, name string) (*Variable, error) {
	if err := checkRead(scope, name); err != nil {
		return nil, err
	}

	sv := s.scope(scope, false)
	if sv == nil {
		return nil, ErrNotFound
	}

	sv.mu.RLock()
	defer sv.mu.RUnlock()

	v, ok := sv.vars[name]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// Set overwrites or creates the variable
func (s *MemoryStore) Set(_ context.Context, scope Scope, name, value string) error {
	if err := checkWrite(scope, name); err != nil {
		return err
	}

	sv := s.scope(scope, true)
	sv.mu.Lock()
	defer sv.mu.Unlock()

	s.write(sv, scope, name, value)
	return nil
}

// Initialize creates the variable unless it already exists
func (s *MemoryStore) Initialize(_ context.Context, scope Scope, name, value string) error {
	if err := checkWrite(scope, name); err != nil {
		return err
	}

	sv := s.scope(scope, true)
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if _, exists := sv.vars[name]; exists {
		return nil
	}
	s.write(sv, scope, name, value)
	return nil
}

// write expects sv.mu to be held
func (s *MemoryStore) write(sv *scopeVars, scope Scope, name, value string) {
	now := s.opts.now()

	existing, ok := sv.vars[name]
	if !ok {
		sv.vars[name] = &Variable{Name: name, Value: value, Scope: scope, UpdatedAt: now}
		return
	}

	if s.opts.history {
		existing.History = append(existing.History, HistoryEntry{Value: existing.Value, ReplacedAt: now})
	}
	existing.Value = value
	existing.UpdatedAt = now
}

// Contains reports whether the variable exists
func (s *MemoryStore) Contains(_ context.Context, scope Scope, name string) (bool, error) {
	if err := checkRead(scope, name); err != nil {
		return false, err
	}

	sv := s.scope(scope, false)
	if sv == nil {
		return false, nil
	}

	sv.mu.RLock()
	defer sv.mu.RUnlock()
	_, ok := sv.vars[name]
	return ok, nil
}

// List returns copies of all variables in the scope
func (s *MemoryStore) List(_ context.Context, scope Scope) ([]*Variable, error) {
	return s.filter(scope, func(*Variable) bool { return true })
}

// UpdatedSince returns the variables updated at or after since
func (s *MemoryStore) UpdatedSince(_ context.Context, scope Scope, since time.Time) ([]*Variable, error) {
	return s.filter(scope, func(v *Variable) bool { return !v.UpdatedAt.Before(since) })
}

func (s *MemoryStore) filter(scope Scope, keep func(*Variable) bool) ([]*Variable, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sv := s.scope(scope, false)
	if sv == nil {
		return []*Variable{}, nil
	}

	sv.mu.RLock()
	defer sv.mu.RUnlock()

	out := make([]*Variable, 0, len(sv.vars))
	for _, v := range sv.vars {
		if keep(v) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func clone(v *Variable) *Variable {
	c := *v
	if v.History != nil {
		c.History = make([]HistoryEntry, len(v.History))
		copy(c.History, v.History)
	}
	return &c
}
