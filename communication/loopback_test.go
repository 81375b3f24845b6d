package communication

import (
	"context"
	"errors"
	"testing"
	"time"
)

var _ Manager = (*Loopback)(nil)

func TestLoopbackReceiveDrainsInbox(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback()
	fixed := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Inject(ReceivedMessage{Type: DialogOptionSMS, Sender: "+41790000000", Message: "yes"})

	msgs, err := l.ReceiveMessages(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessages() failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Message != "yes" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if !msgs[0].ReceivedAt.Equal(fixed) {
		t.Errorf("ReceivedAt = %v, want %v", msgs[0].ReceivedAt, fixed)
	}

	again, _ := l.ReceiveMessages(ctx)
	if len(again) != 0 {
		t.Errorf("expected the inbox to be drained, got %d", len(again))
	}
}

func TestLoopbackSend(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback(DialogOptionSMS)
	option := DialogOption{Type: DialogOptionSMS, Data: "+41790000000"}

	if err := l.SendMessage(ctx, option, "m1", "Hello"); err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	if out := l.Outbox(); len(out) != 1 || out[0].Text != "Hello" || out[0].DialogMessageID != "m1" {
		t.Errorf("unexpected outbox: %+v", out)
	}

	err := l.SendMessage(ctx, DialogOption{Type: DialogOptionEmail, Data: "a@b.c"}, "m2", "x")
	if !errors.Is(err, ErrUnsupportedOption) {
		t.Errorf("SendMessage(email) error = %v, want ErrUnsupportedOption", err)
	}
}

func TestLoopbackFailureInjection(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback()
	boom := errors.New("gateway down")
	l.FailWith(func(_ DialogOption, id string) error {
		if id == "bad" {
			return boom
		}
		return nil
	})
	option := DialogOption{Type: DialogOptionSMS, Data: "1"}

	if err := l.SendMessage(ctx, option, "bad", "x"); !errors.Is(err, boom) {
		t.Errorf("SendMessage(bad) error = %v, want %v", err, boom)
	}
	if err := l.SendMessage(ctx, option, "good", "x"); err != nil {
		t.Errorf("SendMessage(good) failed: %v", err)
	}
	if len(l.Outbox()) != 1 {
		t.Errorf("failed sends must not reach the outbox")
	}
}

func TestLoopbackHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLoopback()
	if _, err := l.ReceiveMessages(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ReceiveMessages() error = %v, want context.Canceled", err)
	}
	if err := l.SendMessage(ctx, DialogOption{Type: DialogOptionSMS, Data: "1"}, "m", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("SendMessage() error = %v, want context.Canceled", err)
	}
}

func TestDialogOptionHelpers(t *testing.T) {
	if !DialogOptionSupervisorSMS.IsSupervisor() || DialogOptionSMS.IsSupervisor() {
		t.Error("IsSupervisor() mismatch")
	}
	if !(DialogOption{Type: DialogOptionSMS}).IsZero() {
		t.Error("an option without data is zero")
	}
}
