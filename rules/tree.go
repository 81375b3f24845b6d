package rules

import (
	"fmt"
	"sort"
)

// Tree is an arena of monitoring rules with child index lists keyed by
// parent id. The root level is keyed by the empty string. A Tree is
// immutable once built and safe to share between goroutines.
type Tree struct {
	rules    []*MonitoringRule
	byID     map[string]int
	children map[string][]int
}

// BuildTree arranges rules into a tree. Sibling order values must be
// unique, every parent must be part of the set and cycles are rejected.
func BuildTree(rules []*MonitoringRule) (*Tree, error) {
	t := &Tree{
		rules:    make([]*MonitoringRule, len(rules)),
		byID:     make(map[string]int, len(rules)),
		children: make(map[string][]int),
	}
	copy(t.rules, rules)

	for i, r := range t.rules {
		if _, dup := t.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %s", r.ID)
		}
		t.byID[r.ID] = i
	}

	for i, r := range t.rules {
		if r.ParentID != "" {
			if _, ok := t.byID[r.ParentID]; !ok {
				return nil, fmt.Errorf("rule %s references unknown parent %s", r.ID, r.ParentID)
			}
		}
		t.children[r.ParentID] = append(t.children[r.ParentID], i)
	}

	for parent, idx := range t.children {
		sort.Slice(idx, func(a, b int) bool {
			return t.rules[idx[a]].Order < t.rules[idx[b]].Order
		})
		for k := 1; k < len(idx); k++ {
			if t.rules[idx[k]].Order == t.rules[idx[k-1]].Order {
				return nil, fmt.Errorf("rules %s and %s share order %d under parent %q",
					t.rules[idx[k-1]].ID, t.rules[idx[k]].ID, t.rules[idx[k]].Order, parent)
			}
		}
	}

	reachable := 0
	t.Walk(func(*MonitoringRule, int) { reachable++ })
	if reachable != len(t.rules) {
		return nil, fmt.Errorf("%d rules are part of a parent cycle", len(t.rules)-reachable)
	}

	return t, nil
}

// Len returns the number of rules in the tree
func (t *Tree) Len() int {
	return len(t.rules)
}

// Get returns the rule with the given id
func (t *Tree) Get(id string) (*MonitoringRule, bool) {
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return t.rules[i], true
}

// Roots returns the top-level rules in ascending order
func (t *Tree) Roots() []*MonitoringRule {
	return t.Children("")
}

// Children returns the direct children of a rule in ascending order
func (t *Tree) Children(parentID string) []*MonitoringRule {
	idx := t.children[parentID]
	out := make([]*MonitoringRule, len(idx))
	for k, i := range idx {
		out[k] = t.rules[i]
	}
	return out
}

// Walk visits rules depth first: each rule, then its children, then its
// next sibling.
func (t *Tree) Walk(visit func(rule *MonitoringRule, depth int)) {
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, i := range t.children[parentID] {
			visit(t.rules[i], depth)
			walk(t.rules[i].ID, depth+1)
		}
	}
	walk("", 0)
}

// Subtree returns the ids of a rule and all of its descendants
func (t *Tree) Subtree(id string) []string {
	if _, ok := t.byID[id]; !ok {
		return nil
	}
	ids := []string{id}
	for k := 0; k < len(ids); k++ {
		for _, i := range t.children[ids[k]] {
			ids = append(ids, t.rules[i].ID)
		}
	}
	return ids
}

// MonitoringRules selects the rules forming an intervention's monitoring tree
func MonitoringRules(all []*MonitoringRule) []*MonitoringRule {
	var out []*MonitoringRule
	for _, r := range all {
		if !r.IsReplyRule() {
			out = append(out, r)
		}
	}
	return out
}

// ReplyRules selects the reply rules of one monitoring rule for one case
func ReplyRules(all []*MonitoringRule, ruleID string, replyCase ReplyCase) []*MonitoringRule {
	var out []*MonitoringRule
	for _, r := range all {
		if r.ReplyToRuleID == ruleID && r.ReplyCase == replyCase {
			out = append(out, r)
		}
	}
	return out
}
