package rules

import "fmt"

// RuleSet holds every rule of one intervention with the monitoring tree and
// all reply trees built up front.
type RuleSet struct {
	InterventionID string
	Monitoring     *Tree

	rules   map[string]*MonitoringRule
	replies map[replyKey]*Tree
}

type replyKey struct {
	ruleID    string
	replyCase ReplyCase
}

var emptyTree = &Tree{byID: map[string]int{}, children: map[string][]int{}}

// NewRuleSet builds the trees of an intervention
func NewRuleSet(interventionID string, all []*MonitoringRule) (*RuleSet, error) {
	monitoring, err := BuildTree(MonitoringRules(all))
	if err != nil {
		return nil, fmt.Errorf("invalid monitoring rules of intervention %s: %w", interventionID, err)
	}

	set := &RuleSet{
		InterventionID: interventionID,
		Monitoring:     monitoring,
		rules:          make(map[string]*MonitoringRule, len(all)),
		replies:        make(map[replyKey]*Tree),
	}

	grouped := make(map[replyKey][]*MonitoringRule)
	for _, r := range all {
		set.rules[r.ID] = r
		if r.IsReplyRule() {
			k := replyKey{r.ReplyToRuleID, r.ReplyCase}
			grouped[k] = append(grouped[k], r)
		}
	}

	for k, rs := range grouped {
		tree, err := BuildTree(rs)
		if err != nil {
			return nil, fmt.Errorf("invalid %s reply rules of rule %s: %w", k.replyCase, k.ruleID, err)
		}
		set.replies[k] = tree
	}

	return set, nil
}

// Rule returns a rule of the set by id
func (s *RuleSet) Rule(id string) (*MonitoringRule, bool) {
	r, ok := s.rules[id]
	return r, ok
}

// Rules returns all rules of the set
func (s *RuleSet) Rules() []*MonitoringRule {
	out := make([]*MonitoringRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// ReplyTree returns the reply rules of a monitoring rule for one case.
// The tree is empty when none exist.
func (s *RuleSet) ReplyTree(ruleID string, replyCase ReplyCase) *Tree {
	if t, ok := s.replies[replyKey{ruleID, replyCase}]; ok {
		return t
	}
	return emptyTree
}
