package dialog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. A single lock serializes writes,
// which makes every status change atomic.
type MemoryStore struct {
	messages  map[string]*Message
	nextOrder map[string]int
	now       func() time.Time
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string]*Message),
		nextOrder: make(map[string]int),
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, m *Message) error {
	if !entryStatuses[m.Status] {
		return fmt.Errorf("%w: cannot create message in status %s", ErrInvalidTransition, m.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, exists := s.messages[m.ID]; exists {
		return fmt.Errorf("dialog message %s already exists", m.ID)
	}
	m.Order = s.nextOrder[m.ParticipantID]
	s.nextOrder[m.ParticipantID]++
	m.CreatedAt = s.now()

	c := *m
	s.messages[m.ID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := *m
	return &c, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status, mutate func(*Message)) (*Message, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return s.apply(id, from, to, mutate)
}

func (s *MemoryStore) Update(_ context.Context, id string, expected Status, mutate func(*Message)) (*Message, error) {
	return s.apply(id, expected, expected, mutate)
}

func (s *MemoryStore) apply(id string, from, to Status, mutate func(*Message)) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if stored.Status != from {
		return nil, fmt.Errorf("%w: %s is %s, expected %s", ErrStaleStatus, id, stored.Status, from)
	}

	c := *stored
	if mutate != nil {
		mutate(&c)
	}
	// identity and status are owned by the store
	c.ID, c.ParticipantID, c.Order, c.CreatedAt = stored.ID, stored.ParticipantID, stored.Order, stored.CreatedAt
	c.Status = to
	s.messages[id] = &c

	out := c
	return &out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]*Message, error) {
	return s.filter(func(m *Message) bool { return m.Status == status }, byCreation, 0), nil
}

func (s *MemoryStore) ListByParticipant(_ context.Context, participantID string) ([]*Message, error) {
	return s.filter(func(m *Message) bool { return m.ParticipantID == participantID }, byOrder, 0), nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*Message, error) {
	return s.filter(func(m *Message) bool { return m.Due(now) }, bySendTime, limit), nil
}

func (s *MemoryStore) ListUnansweredBefore(_ context.Context, now time.Time) ([]*Message, error) {
	return s.filter(func(m *Message) bool {
		return m.Status == StatusSentAndWaitingForAnswer && !m.UnansweredAfter.After(now)
	}, byCreation, 0), nil
}

func (s *MemoryStore) FindWaitingForAnswer(_ context.Context, participantID string, receivedAt time.Time) (*Message, error) {
	candidates := s.filter(func(m *Message) bool {
		return m.ParticipantID == participantID && !m.SupervisorMessage && m.AwaitsAnswerAt(receivedAt)
	}, byOrder, 0)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no message of %s awaits an answer", ErrNotFound, participantID)
	}
	return candidates[len(candidates)-1], nil
}

func (s *MemoryStore) HasReceived(_ context.Context, participantID, raw string, receivedAt time.Time) (bool, error) {
	found := s.filter(func(m *Message) bool {
		return m.ParticipantID == participantID &&
			m.AnswerReceivedRaw == raw &&
			m.AnswerReceivedAt.Equal(receivedAt)
	}, byOrder, 1)
	return len(found) > 0, nil
}

func (s *MemoryStore) CountByParticipantAndMonitoringMessage(_ context.Context, participantID, monitoringMessageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages {
		if m.ParticipantID == participantID && m.RelatedMonitoringMessageID == monitoringMessageID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, m := range s.messages {
		counts[m.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) ResetSending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.Status == StatusSending {
			m.Status = StatusPreparedForSending
			n++
		}
	}
	return n, nil
}

type ordering func(a, b *Message) bool

func byCreation(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func byOrder(a, b *Message) bool {
	if a.ParticipantID != b.ParticipantID {
		return a.ParticipantID < b.ParticipantID
	}
	return a.Order < b.Order
}

func bySendTime(a, b *Message) bool {
	if !a.ShouldBeSentAt.Equal(b.ShouldBeSentAt) {
		return a.ShouldBeSentAt.Before(b.ShouldBeSentAt)
	}
	return byCreation(a, b)
}

func (s *MemoryStore) filter(keep func(*Message) bool, less ordering, limit int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Message{}
	for _, m := range s.messages {
		if keep(m) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
