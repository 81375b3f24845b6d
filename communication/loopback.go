package communication

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SentMessage records one delivery made by the Loopback manager
type SentMessage struct {
	Option          DialogOption
	DialogMessageID string
	Text            string
	SentAt          time.Time
}

// Loopback is an in-process Manager. Received messages are injected by the
// caller and sent messages are kept in an outbox, which makes it usable as
// a simulator for local runs and tests.
type Loopback struct {
	types  []DialogOptionType
	inbox  []ReceivedMessage
	outbox []SentMessage
	fail   func(option DialogOption, dialogMessageID string) error
	now    func() time.Time
	mu     sync.Mutex
}

// NewLoopback creates a loopback manager supporting the given channels, or
// every channel when none are given
func NewLoopback(types ...DialogOptionType) *Loopback {
	if len(types) == 0 {
		types = []DialogOptionType{
			DialogOptionSMS, DialogOptionEmail,
			DialogOptionSupervisorSMS, DialogOptionSupervisorEmail,
			DialogOptionExternalID,
		}
	}
	return &Loopback{types: types, now: time.Now}
}

// Inject queues a message to be returned by the next ReceiveMessages call.
// A zero ReceivedAt is set to the current time.
func (l *Loopback) Inject(msg ReceivedMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = l.now()
	}
	l.inbox = append(l.inbox, msg)
}

// FailWith makes SendMessage return the error produced by fn; a nil fn or
// a nil result lets the delivery succeed
func (l *Loopback) FailWith(fn func(option DialogOption, dialogMessageID string) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = fn
}

// Outbox returns a copy of everything sent so far
func (l *Loopback) Outbox() []SentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]SentMessage, len(l.outbox))
	copy(out, l.outbox)
	return out
}

func (l *Loopback) ReceiveMessages(ctx context.Context) ([]ReceivedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := l.inbox
	l.inbox = nil
	return msgs, nil
}

func (l *Loopback) SendMessage(ctx context.Context, option DialogOption, dialogMessageID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !Supports(l, option.Type) {
		return fmt.Errorf("%w: %s", ErrUnsupportedOption, option.Type)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail != nil {
		if err := l.fail(option, dialogMessageID); err != nil {
			return fmt.Errorf("failed to send message %s: %w", dialogMessageID, err)
		}
	}
	l.outbox = append(l.outbox, SentMessage{
		Option:          option,
		DialogMessageID: dialogMessageID,
		Text:            text,
		SentAt:          l.now(),
	})
	return nil
}

func (l *Loopback) SupportedDialogOptionTypes() []DialogOptionType {
	out := make([]DialogOptionType, len(l.types))
	copy(out, l.types)
	return out
}
