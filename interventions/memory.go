package interventions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/interventions/communication"
	"github.com/liamcoop/interventions/rules"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	interventions map[string]*Intervention
	participants  map[string]*Participant
	groups        map[string]*MessageGroup
	now           func() time.Time
	mu            sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		interventions: make(map[string]*Intervention),
		participants:  make(map[string]*Participant),
		groups:        make(map[string]*MessageGroup),
		now:           time.Now,
	}
}

func copyIntervention(iv *Intervention) *Intervention {
	c := *iv
	c.StartingDays = append([]time.Weekday(nil), iv.StartingDays...)
	return &c
}

func copyGroup(g *MessageGroup) *MessageGroup {
	c := *g
	c.Messages = make([]MonitoringMessage, len(g.Messages))
	for i, m := range g.Messages {
		m.Rules = append([]rules.Rule(nil), m.Rules...)
		c.Messages[i] = m
	}
	return &c
}

func copyParticipant(p *Participant) *Participant {
	c := *p
	return &c
}

func (s *MemoryStore) CreateIntervention(_ context.Context, iv *Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.interventions[iv.ID]; ok {
		return fmt.Errorf("intervention %s %w", iv.ID, ErrExists)
	}
	iv.CreatedAt = s.now()
	iv.UpdatedAt = iv.CreatedAt
	s.interventions[iv.ID] = copyIntervention(iv)
	return nil
}

func (s *MemoryStore) GetIntervention(_ context.Context, id string) (*Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iv, ok := s.interventions[id]
	if !ok {
		return nil, fmt.Errorf("intervention %s %w", id, ErrNotFound)
	}
	return copyIntervention(iv), nil
}

func (s *MemoryStore) ListInterventions(_ context.Context) ([]*Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Intervention, 0, len(s.interventions))
	for _, iv := range s.interventions {
		out = append(out, copyIntervention(iv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateIntervention(_ context.Context, id string, mutate func(*Intervention)) (*Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.interventions[id]
	if !ok {
		return nil, fmt.Errorf("intervention %s %w", id, ErrNotFound)
	}
	c := copyIntervention(stored)
	mutate(c)
	c.ID, c.CreatedAt = stored.ID, stored.CreatedAt
	c.UpdatedAt = s.now()
	s.interventions[id] = c
	return copyIntervention(c), nil
}

func (s *MemoryStore) CreateParticipant(_ context.Context, p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.interventions[p.InterventionID]; !ok {
		return fmt.Errorf("intervention %s %w", p.InterventionID, ErrNotFound)
	}
	if _, ok := s.participants[p.ID]; ok {
		return fmt.Errorf("participant %s %w", p.ID, ErrExists)
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.participants[p.ID] = copyParticipant(p)
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, id string) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s %w", id, ErrNotFound)
	}
	return copyParticipant(p), nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, interventionID string) ([]*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Participant{}
	for _, p := range s.participants {
		if p.InterventionID == interventionID {
			out = append(out, copyParticipant(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, id string, mutate func(*Participant)) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s %w", id, ErrNotFound)
	}
	c := copyParticipant(stored)
	mutate(c)
	c.ID, c.InterventionID, c.CreatedAt = stored.ID, stored.InterventionID, stored.CreatedAt
	c.UpdatedAt = s.now()
	s.participants[id] = c
	return copyParticipant(c), nil
}

func (s *MemoryStore) FindParticipantByDialogOption(_ context.Context, option communication.DialogOption) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Participant
	for _, p := range s.participants {
		if p.DialogOption != option {
			continue
		}
		if iv, ok := s.interventions[p.InterventionID]; !ok || !iv.Active {
			continue
		}
		// newest registration wins when a number was reused
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, fmt.Errorf("participant with %s %q %w", option.Type, option.Data, ErrNotFound)
	}
	return copyParticipant(found), nil
}

func (s *MemoryStore) CreateMessageGroup(_ context.Context, g *MessageGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.interventions[g.InterventionID]; !ok {
		return fmt.Errorf("intervention %s %w", g.InterventionID, ErrNotFound)
	}
	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("message group %s %w", g.ID, ErrExists)
	}
	g.CreatedAt = s.now()
	s.groups[g.ID] = copyGroup(g)
	return nil
}

func (s *MemoryStore) GetMessageGroup(_ context.Context, id string) (*MessageGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("message group %s %w", id, ErrNotFound)
	}
	return copyGroup(g), nil
}

func (s *MemoryStore) ListMessageGroups(_ context.Context, interventionID string) ([]*MessageGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*MessageGroup{}
	for _, g := range s.groups {
		if g.InterventionID == interventionID {
			out = append(out, copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
