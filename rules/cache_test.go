package rules

import (
	"testing"
	"time"
)

func TestRuleSetCacheGetSetInvalidate(t *testing.T) {
	cache := NewInMemoryRuleSetCache(DefaultCacheConfig())

	if cache.Get("iv1") != nil || cache.IsValid("iv1") {
		t.Fatal("empty cache should miss")
	}

	set, err := NewRuleSet("iv1", []*MonitoringRule{storedRule("a", "iv1", "", 0)})
	if err != nil {
		t.Fatalf("NewRuleSet() failed: %v", err)
	}
	cache.Set(set)

	if got := cache.Get("iv1"); got != set {
		t.Error("Get() should return the stored set")
	}
	if cache.Get("iv2") != nil {
		t.Error("other interventions should miss")
	}

	cache.Invalidate("iv1")
	if cache.IsValid("iv1") {
		t.Error("IsValid() should be false after Invalidate()")
	}
}

func TestRuleSetCacheTTL(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cache := NewInMemoryRuleSetCache(CacheConfig{TTL: time.Minute})
	cache.now = func() time.Time { return now }

	set, _ := NewRuleSet("iv1", nil)
	cache.Set(set)

	now = now.Add(30 * time.Second)
	if !cache.IsValid("iv1") {
		t.Error("entry should be valid within TTL")
	}

	now = now.Add(time.Minute)
	if cache.Get("iv1") != nil || cache.IsValid("iv1") {
		t.Error("entry should expire after TTL")
	}
}
