package rules

import "time"

// RuleSetCache holds built rule sets per intervention so a coordinator
// pass does not rebuild trees on every participant.
type RuleSetCache interface {
	// Get returns the cached set, or nil on a miss or after expiry
	Get(interventionID string) *RuleSet

	// Set stores the set of its intervention
	Set(set *RuleSet)

	// Invalidate drops one intervention, forcing a reload on next Get
	Invalidate(interventionID string)

	// IsValid reports whether a fresh entry exists
	IsValid(interventionID string) bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration

	// RefreshOnInvalidate makes the owner rebuild the set right after a
	// mutation instead of on the next Get
	RefreshOnInvalidate bool
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:                 0,
		RefreshOnInvalidate: false,
	}
}
