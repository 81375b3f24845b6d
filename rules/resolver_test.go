package rules

import (
	"context"
	"errors"
	"testing"
)

type mapVariables struct {
	participant Variables
	supervisor  Variables
	snapshots   int
	failStore   bool
}

func newMapVariables(initial Variables) *mapVariables {
	v := &mapVariables{participant: Variables{}, supervisor: Variables{}}
	for k, val := range initial {
		v.participant[k] = val
	}
	return v
}

func (m *mapVariables) Snapshot(context.Context) (Variables, error) {
	m.snapshots++
	out := Variables{}
	for k, v := range m.participant {
		out[k] = v
	}
	return out, nil
}

func (m *mapVariables) Store(_ context.Context, name, value string, supervisor bool) error {
	if m.failStore {
		return errors.New("store unavailable")
	}
	if supervisor {
		m.supervisor[name] = value
	} else {
		m.participant[name] = value
	}
	return nil
}

func calcRule(id, parent string, order int, expr string, sign EquationSign, cmp string) *MonitoringRule {
	return &MonitoringRule{
		Rule:     Rule{ID: id, Order: order, RuleWithPlaceholders: expr, EquationSign: sign, ComparisonTermWithPlaceholders: cmp},
		ParentID: parent,
	}
}

// TestResolveStoreAndSendScenario verifies the "5+$a" rule stores $sum and marks a message due
func TestResolveStoreAndSendScenario(t *testing.T) {
	engine := newTestEngine(t)

	rule := calcRule("sum", "", 1, "5+$a", CalculatedValueIsBiggerThan, "10")
	rule.StoreValueToVariableWithName = "$sum"
	rule.SendMessageIfTrue = true
	rule.RelatedMessageGroupID = "group-1"
	tree, _ := BuildTree([]*MonitoringRule{rule})

	vars := newMapVariables(Variables{"$a": "10"})
	res, err := engine.Resolve(context.Background(), tree, vars)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	if vars.participant["$sum"] != "15" {
		t.Errorf("$sum = %q, want 15", vars.participant["$sum"])
	}
	if len(res.MessagesDue) != 1 || res.MessagesDue[0].MessageGroupID != "group-1" {
		t.Errorf("MessagesDue = %+v", res.MessagesDue)
	}

	vars = newMapVariables(Variables{"$a": "abc"})
	res, err = engine.Resolve(context.Background(), tree, vars)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if _, stored := vars.participant["$sum"]; stored {
		t.Error("Failed evaluation must not store a value")
	}
	if len(res.MessagesDue) != 0 {
		t.Error("Failed evaluation must not mark a message due")
	}
	if len(res.Failed()) != 1 || res.Failed()[0].ErrorMessage == "" {
		t.Errorf("Expected one failed result with message, got %+v", res.Failed())
	}
}

// TestResolveChildrenRunRegardlessOfParentMatch keeps the observed behaviour
// of evaluating sub-rules even when their parent did not match or failed.
func TestResolveChildrenRunRegardlessOfParentMatch(t *testing.T) {
	engine := newTestEngine(t)

	parent := calcRule("parent", "", 1, "1", CalculatedValueEquals, "2")
	broken := calcRule("broken", "", 2, "1/0", CalculatedValueEquals, "1")
	child := calcRule("child", "parent", 1, "1", CalculateValueButResultIsAlwaysTrue, "")
	child.StoreValueToVariableWithName = "$childRan"
	brokenChild := calcRule("brokenChild", "broken", 1, "2", CalculateValueButResultIsAlwaysTrue, "")
	brokenChild.StoreValueToVariableWithName = "$brokenChildRan"

	tree, err := BuildTree([]*MonitoringRule{parent, broken, child, brokenChild})
	if err != nil {
		t.Fatalf("BuildTree() failed: %v", err)
	}

	vars := newMapVariables(nil)
	res, err := engine.Resolve(context.Background(), tree, vars)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	if vars.participant["$childRan"] != "1" {
		t.Error("Child of a non-matching parent was not evaluated")
	}
	if vars.participant["$brokenChildRan"] != "2" {
		t.Error("Child of a failing parent was not evaluated")
	}

	order := []string{}
	for _, r := range res.Results {
		order = append(order, r.RuleID)
	}
	want := []string{"parent", "child", "broken", "brokenChild"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("Evaluation order = %v, want %v", order, want)
		}
	}
}

// TestResolveLaterRulesSeeStoredValues verifies each rule reads a fresh snapshot
func TestResolveLaterRulesSeeStoredValues(t *testing.T) {
	engine := newTestEngine(t)

	first := calcRule("first", "", 1, "2*3", CalculateValueButResultIsAlwaysTrue, "")
	first.StoreValueToVariableWithName = "$six"
	second := calcRule("second", "", 2, "$six", CalculatedValueEquals, "6")
	second.SendMessageIfTrue = true
	second.RelatedMessageGroupID = "g"

	tree, _ := BuildTree([]*MonitoringRule{second, first})
	vars := newMapVariables(nil)

	res, err := engine.Resolve(context.Background(), tree, vars)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(res.MessagesDue) != 1 {
		t.Errorf("Second rule did not see value stored by first rule")
	}
	if vars.snapshots != 2 {
		t.Errorf("Expected one snapshot per rule, got %d", vars.snapshots)
	}
}

func TestResolveSupervisorScopeAndMicroDialog(t *testing.T) {
	engine := newTestEngine(t)

	rule := calcRule("r", "", 1, "hi", CreateTextButResultIsAlwaysTrue, "")
	rule.StoreValueToVariableWithName = "$note"
	rule.SendMessageToSupervisor = true
	rule.ActivateMicroDialogIfTrue = true
	rule.RelatedMicroDialogID = "md-1"

	tree, _ := BuildTree([]*MonitoringRule{rule})
	vars := newMapVariables(nil)

	res, err := engine.Resolve(context.Background(), tree, vars)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if vars.supervisor["$note"] != "hi" {
		t.Errorf("Supervisor variable not written: %+v", vars.supervisor)
	}
	if _, ok := vars.participant["$note"]; ok {
		t.Error("Supervisor value leaked into participant scope")
	}
	if len(res.MicroDialogActivations) != 1 || res.MicroDialogActivations[0].MicroDialogID != "md-1" {
		t.Errorf("MicroDialogActivations = %+v", res.MicroDialogActivations)
	}
}

func TestResolveStopsOnStopIntervention(t *testing.T) {
	engine := newTestEngine(t)

	stop := calcRule("stop", "", 1, "1", CalculatedValueEquals, "1")
	stop.StopInterventionWhenTrue = true
	after := calcRule("after", "", 2, "1", CalculateValueButResultIsAlwaysTrue, "")

	tree, _ := BuildTree([]*MonitoringRule{stop, after})
	res, err := engine.Resolve(context.Background(), tree, newMapVariables(nil))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if !res.StopIntervention {
		t.Error("Expected StopIntervention")
	}
	if len(res.Results) != 1 {
		t.Errorf("Rules after a stop were evaluated: %d results", len(res.Results))
	}
}

// TestResolveSendingRuleDoesNotStop verifies sending wins over stopping
func TestResolveSendingRuleDoesNotStop(t *testing.T) {
	engine := newTestEngine(t)

	first := calcRule("first", "", 1, "1", CalculateValueButResultIsAlwaysTrue, "")
	first.SendMessageIfTrue = true
	first.RelatedMessageGroupID = "group-1"
	first.StopInterventionWhenTrue = true
	second := calcRule("second", "", 2, "1", CalculateValueButResultIsAlwaysTrue, "")
	second.SendMessageIfTrue = true
	second.RelatedMessageGroupID = "group-2"

	tree, err := BuildTree([]*MonitoringRule{first, second})
	if err != nil {
		t.Fatalf("BuildTree() failed: %v", err)
	}
	res, err := engine.Resolve(context.Background(), tree, newMapVariables(nil))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if res.StopIntervention {
		t.Error("A rule sending a message should not stop the intervention")
	}
	if len(res.Results) != 2 {
		t.Errorf("Expected both rules evaluated, got %d results", len(res.Results))
	}
	if len(res.MessagesDue) != 2 {
		t.Errorf("Expected 2 messages due, got %d", len(res.MessagesDue))
	}
}

func TestResolveReportsStoreFailureAndCancellation(t *testing.T) {
	engine := newTestEngine(t)

	rule := calcRule("r", "", 1, "1", CalculateValueButResultIsAlwaysTrue, "")
	rule.StoreValueToVariableWithName = "$x"
	tree, _ := BuildTree([]*MonitoringRule{rule})

	vars := newMapVariables(nil)
	vars.failStore = true
	if _, err := engine.Resolve(context.Background(), tree, vars); err == nil {
		t.Error("Expected store failure to be reported")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Resolve(ctx, tree, newMapVariables(nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
