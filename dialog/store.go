package dialog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a message id is unknown
	ErrNotFound = errors.New("dialog message not found")

	// ErrInvalidTransition is returned for transitions outside the lifecycle
	ErrInvalidTransition = errors.New("invalid dialog message transition")

	// ErrStaleStatus is returned when the message is no longer in the
	// status the caller expected, typically because another worker moved it
	ErrStaleStatus = errors.New("dialog message status changed concurrently")
)

// Store persists dialog messages. Status changes are compare-and-swap on the
// expected prior status so concurrent workers never double-advance a message.
type Store interface {
	// Create stores a new message in an entry status and assigns its id,
	// per-participant order and creation time
	Create(ctx context.Context, m *Message) error

	Get(ctx context.Context, id string) (*Message, error)

	// Transition moves a message from one status to another, applying
	// mutate to the stored copy under the same lock
	Transition(ctx context.Context, id string, from, to Status, mutate func(*Message)) (*Message, error)

	// Update applies mutate without changing the status, failing if the
	// message is no longer in expected
	Update(ctx context.Context, id string, expected Status, mutate func(*Message)) (*Message, error)

	ListByStatus(ctx context.Context, status Status) ([]*Message, error)
	ListByParticipant(ctx context.Context, participantID string) ([]*Message, error)

	// ListDue returns prepared messages whose send time has passed, oldest
	// first. A limit of zero means no limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Message, error)

	// ListUnansweredBefore returns waiting messages whose deadline is at or
	// before now
	ListUnansweredBefore(ctx context.Context, now time.Time) ([]*Message, error)

	// FindWaitingForAnswer returns the newest message of the participant an
	// answer received at the given time can be matched to
	FindWaitingForAnswer(ctx context.Context, participantID string, receivedAt time.Time) (*Message, error)

	// HasReceived reports whether this exact inbound message was already recorded
	HasReceived(ctx context.Context, participantID, raw string, receivedAt time.Time) (bool, error)

	CountByParticipantAndMonitoringMessage(ctx context.Context, participantID, monitoringMessageID string) (int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// ResetSending returns messages left in SENDING by a crash to
	// PREPARED_FOR_SENDING and reports how many were reset
	ResetSending(ctx context.Context) (int, error)
}
