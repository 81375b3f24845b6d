package rules

import (
	"sync"
	"time"
)

type cachedSet struct {
	set      *RuleSet
	cachedAt time.Time
}

// InMemoryRuleSetCache is a map-backed RuleSetCache safe for concurrent use
type InMemoryRuleSetCache struct {
	entries map[string]cachedSet
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryRuleSetCache creates a new in-memory rule set cache
func NewInMemoryRuleSetCache(config CacheConfig) *InMemoryRuleSetCache {
	return &InMemoryRuleSetCache{
		entries: make(map[string]cachedSet),
		config:  config,
		now:     time.Now,
	}
}

// Get retrieves a cached rule set
func (c *InMemoryRuleSetCache) Get(interventionID string) *RuleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[interventionID]
	if !ok || c.expired(e) {
		return nil
	}
	return e.set
}

// Set stores a rule set. RuleSets are never mutated after construction so
// the pointer is shared.
func (c *InMemoryRuleSetCache) Set(set *RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[set.InterventionID] = cachedSet{set: set, cachedAt: c.now()}
}

// Invalidate removes the entry of an intervention
func (c *InMemoryRuleSetCache) Invalidate(interventionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, interventionID)
}

// IsValid returns true if the intervention has a fresh entry
func (c *InMemoryRuleSetCache) IsValid(interventionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[interventionID]
	return ok && !c.expired(e)
}

func (c *InMemoryRuleSetCache) expired(e cachedSet) bool {
	return c.config.TTL > 0 && c.now().Sub(e.cachedAt) > c.config.TTL
}
