//go:build integration
// +build integration

package dialog_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/internal/testdb"
)

func createParticipant(t *testing.T, db *sql.DB) string {
	t.Helper()
	interventionID := uuid.NewString()
	participantID := uuid.NewString()
	if _, err := db.Exec(`INSERT INTO interventions (id, name) VALUES ($1, 'iv')`, interventionID); err != nil {
		t.Fatalf("Failed to create intervention: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO participants (id, intervention_id) VALUES ($1, $2)`, participantID, interventionID); err != nil {
		t.Fatalf("Failed to create participant: %v", err)
	}
	return participantID
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	store := dialog.NewPostgresStore(db)
	pid := createParticipant(t, db)

	deadline := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Microsecond)
	m := &dialog.Message{ParticipantID: pid, Status: dialog.StatusInCreation, Message: "How are you?", ExpectsAnswer: true}
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	second := &dialog.Message{ParticipantID: pid, Status: dialog.StatusInCreation}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if m.Order != 0 || second.Order != 1 {
		t.Errorf("orders = %d, %d; want 0, 1", m.Order, second.Order)
	}

	steps := []dialog.Status{dialog.StatusPreparedForSending, dialog.StatusSending, dialog.StatusSentAndWaitingForAnswer}
	from := dialog.StatusInCreation
	for _, to := range steps {
		if _, err := store.Transition(ctx, m.ID, from, to, func(m *dialog.Message) {
			m.UnansweredAfter = deadline
		}); err != nil {
			t.Fatalf("Transition(%s -> %s) failed: %v", from, to, err)
		}
		from = to
	}

	waiting, err := store.FindWaitingForAnswer(ctx, pid, time.Now())
	if err != nil {
		t.Fatalf("FindWaitingForAnswer() failed: %v", err)
	}
	if waiting.ID != m.ID || !waiting.UnansweredAfter.Equal(deadline) {
		t.Errorf("unexpected waiting message: %+v", waiting)
	}

	if _, err := store.Transition(ctx, m.ID, dialog.StatusSending, dialog.StatusSentAndWaitingForAnswer, nil); !errors.Is(err, dialog.ErrStaleStatus) {
		t.Errorf("Expected ErrStaleStatus, got %v", err)
	}

	expired, _ := store.ListUnansweredBefore(ctx, deadline.Add(time.Minute))
	if len(expired) != 1 {
		t.Errorf("Expected 1 expired message, got %d", len(expired))
	}
}

func TestPostgresStore_ConcurrentTransitionAppliesOnce(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	store := dialog.NewPostgresStore(db)
	pid := createParticipant(t, db)

	m := &dialog.Message{ParticipantID: pid, Status: dialog.StatusInCreation}
	_ = store.Create(ctx, m)
	_, _ = store.Transition(ctx, m.ID, dialog.StatusInCreation, dialog.StatusPreparedForSending, nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Transition(ctx, m.ID, dialog.StatusPreparedForSending, dialog.StatusSending, nil); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("transition applied %d times, want 1", wins.Load())
	}

	n, err := store.ResetSending(ctx)
	if err != nil || n != 1 {
		t.Errorf("ResetSending() = %d, %v; want 1", n, err)
	}
}

func TestPostgresStore_ReceivedDedup(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	store := dialog.NewPostgresStore(db)
	pid := createParticipant(t, db)

	at := time.Now().UTC().Truncate(time.Microsecond)
	m := &dialog.Message{
		ParticipantID:     pid,
		Status:            dialog.StatusReceivedUnexpectedly,
		AnswerReceivedRaw: "hi",
		AnswerReceivedAt:  at,
	}
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	ok, err := store.HasReceived(ctx, pid, "hi", at)
	if err != nil || !ok {
		t.Errorf("HasReceived() = %v, %v; want true", ok, err)
	}
	counts, _ := store.CountByStatus(ctx)
	if counts[dialog.StatusReceivedUnexpectedly] != 1 {
		t.Errorf("unexpected status counts: %v", counts)
	}
}
