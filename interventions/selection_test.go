package interventions

import (
	"context"
	"errors"
	"testing"

	"github.com/liamcoop/interventions/rules"
)

type fakeCounter map[string]int

func (c fakeCounter) CountByParticipantAndMonitoringMessage(_ context.Context, _, monitoringMessageID string) (int, error) {
	return c[monitoringMessageID], nil
}

type failingCounter struct{}

func (failingCounter) CountByParticipantAndMonitoringMessage(context.Context, string, string) (int, error) {
	return 0, errors.New("database unavailable")
}

func newSelector(t *testing.T, counter MessageCounter) *Selector {
	t.Helper()
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return NewSelector(engine, counter)
}

func moodRule(want string) []rules.Rule {
	return []rules.Rule{{
		ID:                             "mood",
		RuleWithPlaceholders:           "$mood",
		EquationSign:                   rules.TextValueEquals,
		ComparisonTermWithPlaceholders: want,
	}}
}

func TestSelectorSelect(t *testing.T) {
	group := &MessageGroup{Messages: []MonitoringMessage{
		{ID: "c", Order: 2},
		{ID: "a", Order: 0},
		{ID: "b", Order: 1, Rules: moodRule("good")},
	}}

	tests := []struct {
		name   string
		counts fakeCounter
		mood   string
		want   string
	}{
		{"first unused in order", fakeCounter{}, "good", "a"},
		{"skips used messages", fakeCounter{"a": 1}, "good", "b"},
		{"skips unused message whose rules fail", fakeCounter{"a": 1}, "bad", "c"},
		{"least used when all were sent", fakeCounter{"a": 3, "b": 2, "c": 1}, "good", "c"},
		{"least used tie picks first in order", fakeCounter{"a": 1, "b": 1, "c": 1}, "good", "a"},
		{"any match when least used does not match", fakeCounter{"a": 2, "b": 1, "c": 2}, "bad", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSelector(t, tt.counts)
			got, err := s.Select(context.Background(), group, "p1", rules.Variables{"$mood": tt.mood})
			if err != nil {
				t.Fatalf("Select() failed: %v", err)
			}
			if got == nil || got.ID != tt.want {
				t.Errorf("Select() = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestSelectorSelectNothingEligible(t *testing.T) {
	s := newSelector(t, fakeCounter{})

	group := &MessageGroup{Messages: []MonitoringMessage{{ID: "a", Rules: moodRule("good")}}}
	got, err := s.Select(context.Background(), group, "p1", rules.Variables{"$mood": "bad"})
	if err != nil || got != nil {
		t.Errorf("Select() = (%v, %v), want (nil, nil)", got, err)
	}

	got, err = s.Select(context.Background(), &MessageGroup{}, "p1", nil)
	if err != nil || got != nil {
		t.Errorf("Select(empty group) = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestSelectorFailingRuleExcludesMessage(t *testing.T) {
	s := newSelector(t, fakeCounter{})

	broken := []rules.Rule{{ID: "div", RuleWithPlaceholders: "1/0", EquationSign: rules.CalculateValueButResultIsAlwaysTrue}}
	group := &MessageGroup{Messages: []MonitoringMessage{
		{ID: "a", Order: 0, Rules: broken},
		{ID: "b", Order: 1},
	}}
	got, err := s.Select(context.Background(), group, "p1", nil)
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if got == nil || got.ID != "b" {
		t.Errorf("Select() = %v, want b", got)
	}
}

func TestSelectorRandomOrder(t *testing.T) {
	s := newSelector(t, fakeCounter{})
	s.shuffle = func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}

	group := &MessageGroup{RandomOrder: true, Messages: []MonitoringMessage{
		{ID: "a", Order: 0}, {ID: "b", Order: 1}, {ID: "c", Order: 2},
	}}
	got, err := s.Select(context.Background(), group, "p1", nil)
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if got.ID != "c" {
		t.Errorf("Select() = %s, want c after reversing", got.ID)
	}
}

func TestSelectorCounterError(t *testing.T) {
	s := newSelector(t, failingCounter{})

	group := &MessageGroup{Messages: []MonitoringMessage{{ID: "a"}}}
	if _, err := s.Select(context.Background(), group, "p1", nil); err == nil {
		t.Error("Select() should fail when counting fails")
	}
}

func TestSamePosition(t *testing.T) {
	question := &MessageGroup{Messages: []MonitoringMessage{{ID: "q1"}, {ID: "q2"}, {ID: "q3"}}}
	answers := &MessageGroup{Messages: []MonitoringMessage{{ID: "a1"}, {ID: "a2"}}}

	got, ok := SamePosition(answers, question, "q2")
	if !ok || got.ID != "a2" {
		t.Errorf("SamePosition(q2) = (%v, %v), want a2", got, ok)
	}
	if _, ok := SamePosition(answers, question, "q3"); ok {
		t.Error("SamePosition(q3) should fail when the reply group is shorter")
	}
	if _, ok := SamePosition(answers, question, "unknown"); ok {
		t.Error("SamePosition(unknown) should fail")
	}
	if _, ok := SamePosition(answers, nil, "q1"); ok {
		t.Error("SamePosition() without original group should fail")
	}
}
