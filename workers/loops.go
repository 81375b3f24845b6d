package workers

import (
	"context"
	"time"
)

// Worker and phase names
const (
	Incoming   = "incoming"
	Outgoing   = "outgoing"
	Monitoring = "monitoring"

	PhaseReceive          = "receive"
	PhaseDispatch         = "dispatch"
	PhaseStatistics       = "statistics"
	PhaseFinishScreening  = "finish_screening"
	PhaseReactUnanswered  = "react_unanswered"
	PhaseReactAnswered    = "react_answered"
	PhaseScheduleMessages = "schedule_messages"
)

// Receiver pulls and handles received messages
type Receiver interface {
	ReceiveMessages(ctx context.Context) error
}

// Dispatcher sends due messages
type Dispatcher interface {
	DispatchOutgoing(ctx context.Context) error
}

// Monitor carries out the monitoring phases
type Monitor interface {
	Statistics(ctx context.Context) error
	FinishScreening(ctx context.Context) error
	ReactOnUnansweredMessages(ctx context.Context) error
	ReactOnAnsweredMessages(ctx context.Context) error
	ScheduleMessages(ctx context.Context) error
}

// NewIncoming creates the worker handling received messages
func NewIncoming(r Receiver, interval time.Duration, opts ...Option) *Worker {
	return New(Incoming, interval, []Phase{
		{Name: PhaseReceive, Run: r.ReceiveMessages},
	}, opts...)
}

// NewOutgoing creates the worker sending due messages
func NewOutgoing(d Dispatcher, interval time.Duration, opts ...Option) *Worker {
	return New(Outgoing, interval, []Phase{
		{Name: PhaseDispatch, Run: d.DispatchOutgoing},
	}, opts...)
}

// NewMonitoring creates the worker running the monitoring phases. Timeouts
// and answers are handled before new messages are scheduled.
func NewMonitoring(m Monitor, interval time.Duration, opts ...Option) *Worker {
	return New(Monitoring, interval, []Phase{
		{Name: PhaseStatistics, Run: m.Statistics},
		{Name: PhaseFinishScreening, Run: m.FinishScreening},
		{Name: PhaseReactUnanswered, Run: m.ReactOnUnansweredMessages},
		{Name: PhaseReactAnswered, Run: m.ReactOnAnsweredMessages},
		{Name: PhaseScheduleMessages, Run: m.ScheduleMessages},
	}, opts...)
}
