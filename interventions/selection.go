package interventions

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/liamcoop/interventions/rules"
)

// MessageCounter reports how often a monitoring message was already sent
// to a participant
type MessageCounter interface {
	CountByParticipantAndMonitoringMessage(ctx context.Context, participantID, monitoringMessageID string) (int, error)
}

// Selector picks the message of a group a participant receives next
type Selector struct {
	engine  *rules.Engine
	counter MessageCounter
	shuffle func(n int, swap func(i, j int))
}

// NewSelector creates a selector evaluating message rules with engine
func NewSelector(engine *rules.Engine, counter MessageCounter) *Selector {
	return &Selector{
		engine:  engine,
		counter: counter,
		shuffle: rand.Shuffle,
	}
}

type candidate struct {
	message *MonitoringMessage
	sent    int
}

// Select returns the next message of the group for the participant, or nil
// when no message is eligible. Messages never sent before win, then the
// least sent one if its rules match, then any message whose rules match.
// A message whose rules fail to evaluate is not eligible.
func (s *Selector) Select(ctx context.Context, g *MessageGroup, participantID string, vars rules.Variables) (*MonitoringMessage, error) {
	if len(g.Messages) == 0 {
		return nil, nil
	}

	candidates := make([]candidate, len(g.Messages))
	for i := range g.Messages {
		m := &g.Messages[i]
		n, err := s.counter.CountByParticipantAndMonitoringMessage(ctx, participantID, m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count message %s: %w", m.ID, err)
		}
		candidates[i] = candidate{message: m, sent: n}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].message.Order < candidates[b].message.Order
	})
	if g.RandomOrder {
		s.shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}

	matches := func(m *MonitoringMessage) bool {
		ok, _ := s.engine.MatchesAll(m.Rules, vars)
		return ok
	}

	for _, c := range candidates {
		if c.sent == 0 && matches(c.message) {
			return c.message, nil
		}
	}

	least := candidates[0]
	for _, c := range candidates[1:] {
		if c.sent < least.sent {
			least = c
		}
	}
	if matches(least.message) {
		return least.message, nil
	}

	for _, c := range candidates {
		if matches(c.message) {
			return c.message, nil
		}
	}
	return nil, nil
}

// SamePosition returns the message of g at the position the original
// message has in its own group. It is used for replies of groups that send
// the answer matching the question.
func SamePosition(g *MessageGroup, original *MessageGroup, originalMessageID string) (*MonitoringMessage, bool) {
	if original == nil {
		return nil, false
	}
	_, idx, ok := original.Message(originalMessageID)
	if !ok || idx >= len(g.Messages) {
		return nil, false
	}
	return &g.Messages[idx], true
}
