package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrRuleNotFound is returned when a rule id is unknown
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExists is returned when adding a rule whose id is taken
	ErrRuleExists = errors.New("rule already exists")
)

// RuleStore manages monitoring rule persistence
type RuleStore interface {
	// Add a new rule
	Add(ctx context.Context, rule *MonitoringRule) error

	// Get a rule by ID
	Get(ctx context.Context, id string) (*MonitoringRule, error)

	// ListByIntervention returns monitoring and reply rules of an intervention
	ListByIntervention(ctx context.Context, interventionID string) ([]*MonitoringRule, error)

	// Update an existing rule
	Update(ctx context.Context, rule *MonitoringRule) error

	// Delete removes the given rules
	Delete(ctx context.Context, ids ...string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
type InMemoryRuleStore struct {
	rules map[string]*MonitoringRule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*MonitoringRule),
	}
}

// Add stores a copy of the rule and sets its timestamps
func (s *InMemoryRuleStore) Add(_ context.Context, rule *MonitoringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	c := *rule
	s.rules[rule.ID] = &c
	return nil
}

// Get retrieves a copy of a rule by ID
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*MonitoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	c := *rule
	return &c, nil
}

// ListByIntervention returns the intervention's rules ordered by parent and order
func (s *InMemoryRuleStore) ListByIntervention(_ context.Context, interventionID string) ([]*MonitoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*MonitoringRule{}
	for _, rule := range s.rules {
		if rule.InterventionID == interventionID {
			c := *rule
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentID != out[j].ParentID {
			return out[i].ParentID < out[j].ParentID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

// Update replaces an existing rule, preserving CreatedAt
func (s *InMemoryRuleStore) Update(_ context.Context, rule *MonitoringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	c := *rule
	s.rules[rule.ID] = &c
	return nil
}

// Delete removes rules; unknown ids are an error and nothing is removed
func (s *InMemoryRuleStore) Delete(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, exists := s.rules[id]; !exists {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
	}
	for _, id := range ids {
		delete(s.rules, id)
	}
	return nil
}
