package interventions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/liamcoop/interventions/rules"
)

// Manager owns interventions and their rule sets. Rule authoring goes through
// the manager so every change is validated against the whole tree before it
// is stored and cached sets are invalidated.
type Manager struct {
	store  Store
	rules  rules.RuleStore
	cache  rules.RuleSetCache
	config rules.CacheConfig
	logger *slog.Logger
	mu     sync.Mutex
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithRuleSetCache replaces the default in-memory rule set cache
func WithRuleSetCache(cache rules.RuleSetCache, config rules.CacheConfig) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
		m.config = config
	}
}

// WithLogger sets the logger used for load and authoring events
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new manager instance
func NewManager(store Store, ruleStore rules.RuleStore, opts ...ManagerOption) *Manager {
	config := rules.DefaultCacheConfig()
	m := &Manager{
		store:  store,
		rules:  ruleStore,
		cache:  rules.NewInMemoryRuleSetCache(config),
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying intervention store
func (m *Manager) Store() Store {
	return m.store
}

// LoadAll builds and caches the rule sets of all interventions. An invalid
// tree aborts loading.
func (m *Manager) LoadAll(ctx context.Context) error {
	all, err := m.store.ListInterventions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch interventions: %w", err)
	}

	loaded := 0
	for _, iv := range all {
		set, err := m.buildRuleSet(ctx, iv.ID)
		if err != nil {
			return fmt.Errorf("failed to initialize intervention %s: %w", iv.ID, err)
		}
		m.cache.Set(set)
		loaded++
	}

	m.logger.Info("rule_sets_loaded", "interventions", loaded)
	return nil
}

// RuleSet returns the rule set of an intervention, building it on a cache miss
func (m *Manager) RuleSet(ctx context.Context, interventionID string) (*rules.RuleSet, error) {
	if set := m.cache.Get(interventionID); set != nil {
		return set, nil
	}

	set, err := m.buildRuleSet(ctx, interventionID)
	if err != nil {
		return nil, err
	}
	m.cache.Set(set)
	return set, nil
}

func (m *Manager) buildRuleSet(ctx context.Context, interventionID string) (*rules.RuleSet, error) {
	all, err := m.rules.ListByIntervention(ctx, interventionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return rules.NewRuleSet(interventionID, all)
}

func (m *Manager) invalidate(ctx context.Context, interventionID string) {
	m.cache.Invalidate(interventionID)
	if !m.config.RefreshOnInvalidate {
		return
	}
	if _, err := m.RuleSet(ctx, interventionID); err != nil {
		m.logger.Warn("rule_set_refresh_failed", "intervention_id", interventionID, "error", err)
	}
}

// Interventions

// CreateIntervention stores a new intervention, generating its id if unset
func (m *Manager) CreateIntervention(ctx context.Context, iv *Intervention) error {
	if iv.Name == "" {
		return fmt.Errorf("intervention name cannot be empty")
	}
	if iv.ID == "" {
		iv.ID = uuid.New().String()
	}
	for _, d := range iv.StartingDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("invalid starting day %d", d)
		}
	}
	if err := m.store.CreateIntervention(ctx, iv); err != nil {
		return err
	}
	m.cache.Invalidate(iv.ID)
	m.logger.Info("intervention_created", "intervention_id", iv.ID)
	return nil
}

// SetInterventionStatus switches an intervention and its monitoring on or off
func (m *Manager) SetInterventionStatus(ctx context.Context, id string, active, monitoringActive bool) (*Intervention, error) {
	return m.store.UpdateIntervention(ctx, id, func(iv *Intervention) {
		iv.Active = active
		iv.MonitoringActive = monitoringActive
	})
}

// Participants

// CreateParticipant registers a participant with an existing intervention
func (m *Manager) CreateParticipant(ctx context.Context, p *Participant) error {
	if _, err := m.store.GetIntervention(ctx, p.InterventionID); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return m.store.CreateParticipant(ctx, p)
}

// Message groups

// CreateMessageGroup validates and stores a message group. Messages without
// an id get one.
func (m *Manager) CreateMessageGroup(ctx context.Context, g *MessageGroup) error {
	if _, err := m.store.GetIntervention(ctx, g.InterventionID); err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	for i := range g.Messages {
		if g.Messages[i].ID == "" {
			g.Messages[i].ID = uuid.New().String()
		}
	}
	if err := validateMessageGroup(g); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return m.store.CreateMessageGroup(ctx, g)
}

// Rules

// ListRules returns the rules of an intervention ordered by parent and order
func (m *Manager) ListRules(ctx context.Context, interventionID string) ([]*rules.MonitoringRule, error) {
	if _, err := m.store.GetIntervention(ctx, interventionID); err != nil {
		return nil, err
	}
	return m.rules.ListByIntervention(ctx, interventionID)
}

// GetRule returns one rule of an intervention
func (m *Manager) GetRule(ctx context.Context, interventionID, ruleID string) (*rules.MonitoringRule, error) {
	r, err := m.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if r.InterventionID != interventionID {
		return nil, fmt.Errorf("rule %s %w", ruleID, rules.ErrRuleNotFound)
	}
	return r, nil
}

// CreateRule validates a new rule against the intervention's trees and stores it
func (m *Manager) CreateRule(ctx context.Context, r *rules.MonitoringRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	existing, err := m.checkRule(ctx, r)
	if err != nil {
		return err
	}
	if err := m.checkTrees(r.InterventionID, append(existing, r)); err != nil {
		return err
	}

	if err := m.rules.Add(ctx, r); err != nil {
		return err
	}
	m.invalidate(ctx, r.InterventionID)
	m.logger.Info("rule_created", "intervention_id", r.InterventionID, "rule_id", r.ID)
	return nil
}

// UpdateRule replaces an existing rule. Its intervention cannot change.
func (m *Manager) UpdateRule(ctx context.Context, r *rules.MonitoringRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRule(ctx, r)
}

// updateRule requires m.mu
func (m *Manager) updateRule(ctx context.Context, r *rules.MonitoringRule) error {
	current, err := m.rules.Get(ctx, r.ID)
	if err != nil {
		return err
	}
	if current.InterventionID != r.InterventionID {
		return fmt.Errorf("rule %s %w", r.ID, rules.ErrRuleNotFound)
	}

	existing, err := m.checkRule(ctx, r)
	if err != nil {
		return err
	}
	if err := m.checkTrees(r.InterventionID, append(existing, r)); err != nil {
		return err
	}

	if err := m.rules.Update(ctx, r); err != nil {
		return err
	}
	m.invalidate(ctx, r.InterventionID)
	m.logger.Info("rule_updated", "intervention_id", r.InterventionID, "rule_id", r.ID)
	return nil
}

// MoveRule places a rule under a new parent at a new order. The move is
// rejected when it would create a cycle or an order collision.
func (m *Manager) MoveRule(ctx context.Context, interventionID, ruleID, parentID string, order int) (*rules.MonitoringRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.GetRule(ctx, interventionID, ruleID)
	if err != nil {
		return nil, err
	}
	r.ParentID = parentID
	r.Order = order
	if err := m.updateRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRule removes a rule together with its descendants and the reply
// rules attached to any of them
func (m *Manager) DeleteRule(ctx context.Context, interventionID, ruleID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.rules.ListByIntervention(ctx, interventionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	set, err := rules.NewRuleSet(interventionID, all)
	if err != nil {
		return nil, err
	}
	target, ok := set.Rule(ruleID)
	if !ok {
		return nil, fmt.Errorf("rule %s %w", ruleID, rules.ErrRuleNotFound)
	}

	var ids []string
	seen := make(map[string]bool)
	var collect func(tree *rules.Tree, id string)
	collect = func(tree *rules.Tree, id string) {
		for _, sub := range tree.Subtree(id) {
			if seen[sub] {
				continue
			}
			seen[sub] = true
			ids = append(ids, sub)
			for _, rc := range []rules.ReplyCase{rules.ReplyCaseAnswered, rules.ReplyCaseUnanswered} {
				reply := set.ReplyTree(sub, rc)
				for _, root := range reply.Roots() {
					collect(reply, root.ID)
				}
			}
		}
	}
	if target.IsReplyRule() {
		collect(set.ReplyTree(target.ReplyToRuleID, target.ReplyCase), ruleID)
	} else {
		collect(set.Monitoring, ruleID)
	}

	if err := m.rules.Delete(ctx, ids...); err != nil {
		return nil, err
	}
	m.invalidate(ctx, interventionID)
	m.logger.Info("rule_deleted", "intervention_id", interventionID, "rule_id", ruleID, "removed", len(ids))
	return ids, nil
}

// checkRule validates a rule on its own and its references to the
// intervention, message group and replied-to rule. It returns the other
// rules of the intervention.
func (m *Manager) checkRule(ctx context.Context, r *rules.MonitoringRule) ([]*rules.MonitoringRule, error) {
	if err := rules.ValidateMonitoringRule(r); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if _, err := m.store.GetIntervention(ctx, r.InterventionID); err != nil {
		return nil, err
	}

	if r.RelatedMessageGroupID != "" {
		g, err := m.store.GetMessageGroup(ctx, r.RelatedMessageGroupID)
		if errors.Is(err, ErrNotFound) || (err == nil && g.InterventionID != r.InterventionID) {
			return nil, fmt.Errorf("validation failed: rule %s references unknown message group %s", r.ID, r.RelatedMessageGroupID)
		}
		if err != nil {
			return nil, err
		}
	}

	all, err := m.rules.ListByIntervention(ctx, r.InterventionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	others := make([]*rules.MonitoringRule, 0, len(all))
	for _, o := range all {
		if o.ID != r.ID {
			others = append(others, o)
		}
	}

	if r.IsReplyRule() {
		target := findRule(others, r.ReplyToRuleID)
		if target == nil {
			return nil, fmt.Errorf("validation failed: rule %s replies to unknown rule %s", r.ID, r.ReplyToRuleID)
		}
		if target.IsReplyRule() {
			return nil, fmt.Errorf("validation failed: rule %s replies to reply rule %s", r.ID, r.ReplyToRuleID)
		}
		for _, o := range others {
			if o.ReplyToRuleID == r.ID {
				return nil, fmt.Errorf("validation failed: rule %s has reply rules and cannot become one", r.ID)
			}
		}
	}
	return others, nil
}

func (m *Manager) checkTrees(interventionID string, candidate []*rules.MonitoringRule) error {
	if _, err := rules.NewRuleSet(interventionID, candidate); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func findRule(all []*rules.MonitoringRule, id string) *rules.MonitoringRule {
	for _, r := range all {
		if r.ID == id {
			return r
		}
	}
	return nil
}
