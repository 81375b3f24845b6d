package dialog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func newStore() *MemoryStore {
	s := NewMemoryStore()
	s.now = func() time.Time { return base }
	return s
}

// sent creates a message and walks it to waiting-for-answer
func sent(t *testing.T, s Store, participantID string, deadline time.Time) *Message {
	t.Helper()
	ctx := context.Background()

	m := &Message{ParticipantID: participantID, Status: StatusInCreation, ExpectsAnswer: true}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	steps := []Status{StatusPreparedForSending, StatusSending, StatusSentAndWaitingForAnswer}
	from := StatusInCreation
	for _, to := range steps {
		if _, err := s.Transition(ctx, m.ID, from, to, func(m *Message) {
			m.UnansweredAfter = deadline
		}); err != nil {
			t.Fatalf("Transition(%s -> %s) failed: %v", from, to, err)
		}
		from = to
	}
	got, _ := s.Get(ctx, m.ID)
	return got
}

func TestCreateAssignsIdentityAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	a := &Message{ParticipantID: "p1", Status: StatusInCreation}
	b := &Message{ParticipantID: "p1", Status: StatusReceivedUnexpectedly}
	c := &Message{ParticipantID: "p2", Status: StatusInCreation}
	for _, m := range []*Message{a, b, c} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct generated ids, got %q and %q", a.ID, b.ID)
	}
	if a.Order != 0 || b.Order != 1 || c.Order != 0 {
		t.Errorf("orders = %d, %d, %d; want 0, 1, 0", a.Order, b.Order, c.Order)
	}
	if !a.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, base)
	}
}

func TestCreateRejectsNonEntryStatus(t *testing.T) {
	err := newStore().Create(context.Background(), &Message{ParticipantID: "p1", Status: StatusSending})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Create(SENDING) error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionChecksExpectedStatus(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	m := sent(t, s, "p1", base.Add(4*time.Hour))

	_, err := s.Transition(ctx, m.ID, StatusSending, StatusSentAndWaitingForAnswer, nil)
	if !errors.Is(err, ErrStaleStatus) {
		t.Errorf("stale Transition() error = %v, want ErrStaleStatus", err)
	}

	_, err = s.Transition(ctx, m.ID, StatusSentAndWaitingForAnswer, StatusSentAndAnsweredAndProcessed, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("skipping Transition() error = %v, want ErrInvalidTransition", err)
	}

	_, err = s.Transition(ctx, "missing", StatusInCreation, StatusPreparedForSending, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing Transition() error = %v, want ErrNotFound", err)
	}
}

func TestTransitionMutatesButKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	m := sent(t, s, "p1", base.Add(4*time.Hour))

	got, err := s.Transition(ctx, m.ID, StatusSentAndWaitingForAnswer, StatusSentAndAnsweredByParticipant, func(m *Message) {
		m.AnswerReceived = "yes"
		m.ParticipantID = "someone-else"
		m.Status = StatusReceivedUnexpectedly
	})
	if err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	if got.AnswerReceived != "yes" || got.ParticipantID != "p1" || got.Status != StatusSentAndAnsweredByParticipant {
		t.Errorf("unexpected message after transition: %+v", got)
	}
}

func TestConcurrentTransitionAppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	m := sent(t, s, "p1", base.Add(4*time.Hour))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transition(ctx, m.ID, StatusSentAndWaitingForAnswer, StatusSentAndAnsweredByParticipant, nil)
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrStaleStatus) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("transition applied %d times, want 1", wins.Load())
	}
}

func TestUpdateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	m := sent(t, s, "p1", base.Add(4*time.Hour))

	got, err := s.Update(ctx, m.ID, StatusSentAndWaitingForAnswer, func(m *Message) {
		m.AnswerNotAutomaticallyProcessable = true
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if got.Status != StatusSentAndWaitingForAnswer || !got.AnswerNotAutomaticallyProcessable {
		t.Errorf("unexpected message after update: %+v", got)
	}

	if _, err := s.Update(ctx, m.ID, StatusSending, nil); !errors.Is(err, ErrStaleStatus) {
		t.Errorf("stale Update() error = %v, want ErrStaleStatus", err)
	}
}

func TestFindWaitingForAnswer(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	older := sent(t, s, "p1", base.Add(4*time.Hour))
	newer := sent(t, s, "p1", base.Add(2*time.Hour))
	sent(t, s, "p2", base.Add(4*time.Hour))

	got, err := s.FindWaitingForAnswer(ctx, "p1", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FindWaitingForAnswer() failed: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("expected the newest waiting message, got order %d", got.Order)
	}

	got, err = s.FindWaitingForAnswer(ctx, "p1", base.Add(3*time.Hour))
	if err != nil || got.ID != older.ID {
		t.Errorf("after the newer deadline expected the older message, got %v, %v", got, err)
	}

	_, _ = s.Update(ctx, older.ID, StatusSentAndWaitingForAnswer, func(m *Message) {
		m.AnswerNotAutomaticallyProcessable = true
	})
	if _, err := s.FindWaitingForAnswer(ctx, "p1", base.Add(3*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("flagged message must not be matched, got %v", err)
	}
}

func TestListUnansweredBefore(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	expired := sent(t, s, "p1", base.Add(time.Hour))
	sent(t, s, "p1", base.Add(5*time.Hour))

	list, err := s.ListUnansweredBefore(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListUnansweredBefore() failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != expired.ID {
		t.Errorf("expected only the expired message, got %d", len(list))
	}
}

func TestListDueOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	prepare := func(at time.Time) *Message {
		m := &Message{ParticipantID: "p1", Status: StatusInCreation, ShouldBeSentAt: at}
		_ = s.Create(ctx, m)
		_, _ = s.Transition(ctx, m.ID, StatusInCreation, StatusPreparedForSending, nil)
		return m
	}
	late := prepare(base.Add(2 * time.Hour))
	early := prepare(base.Add(-time.Hour))
	now := prepare(base)
	prepare(base.Add(24 * time.Hour))

	due, _ := s.ListDue(ctx, base.Add(3*time.Hour), 0)
	if len(due) != 3 {
		t.Fatalf("expected 3 due messages, got %d", len(due))
	}
	if due[0].ID != early.ID || due[1].ID != now.ID || due[2].ID != late.ID {
		t.Error("due messages should be ordered by send time")
	}

	capped, _ := s.ListDue(ctx, base.Add(3*time.Hour), 2)
	if len(capped) != 2 {
		t.Errorf("expected limit 2, got %d", len(capped))
	}
}

func TestHasReceivedAndCounts(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	at := base.Add(time.Minute)

	m := &Message{
		ParticipantID:              "p1",
		Status:                     StatusReceivedUnexpectedly,
		AnswerReceivedRaw:          "Hello",
		AnswerReceivedAt:           at,
		RelatedMonitoringMessageID: "mm1",
	}
	_ = s.Create(ctx, m)

	if ok, _ := s.HasReceived(ctx, "p1", "Hello", at); !ok {
		t.Error("expected the recorded message to be found")
	}
	if ok, _ := s.HasReceived(ctx, "p1", "Hello", at.Add(time.Second)); ok {
		t.Error("a different timestamp is a different message")
	}

	n, _ := s.CountByParticipantAndMonitoringMessage(ctx, "p1", "mm1")
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	counts, _ := s.CountByStatus(ctx)
	if counts[StatusReceivedUnexpectedly] != 1 {
		t.Errorf("status counts = %v", counts)
	}
}

func TestResetSending(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	m := &Message{ParticipantID: "p1", Status: StatusInCreation}
	_ = s.Create(ctx, m)
	_, _ = s.Transition(ctx, m.ID, StatusInCreation, StatusPreparedForSending, nil)
	_, _ = s.Transition(ctx, m.ID, StatusPreparedForSending, StatusSending, nil)

	n, err := s.ResetSending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetSending() = %d, %v; want 1", n, err)
	}
	got, _ := s.Get(ctx, m.ID)
	if got.Status != StatusPreparedForSending {
		t.Errorf("status = %s, want PREPARED_FOR_SENDING", got.Status)
	}
}
