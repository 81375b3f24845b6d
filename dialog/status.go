package dialog

import "fmt"

// Status is the lifecycle position of a dialog message
type Status string

const (
	StatusInCreation                     Status = "IN_CREATION"
	StatusPreparedForSending             Status = "PREPARED_FOR_SENDING"
	StatusSending                        Status = "SENDING"
	StatusSentAndWaitingForAnswer        Status = "SENT_AND_WAITING_FOR_ANSWER"
	StatusSentButNotWaitingForAnswer     Status = "SENT_BUT_NOT_WAITING_FOR_ANSWER"
	StatusSentAndAnsweredByParticipant   Status = "SENT_AND_ANSWERED_BY_PARTICIPANT"
	StatusSentAndAnsweredAndProcessed    Status = "SENT_AND_ANSWERED_AND_PROCESSED"
	StatusSentAndNotAnsweredAndProcessed Status = "SENT_AND_NOT_ANSWERED_AND_PROCESSED"
	StatusReceivedUnexpectedly           Status = "RECEIVED_UNEXPECTEDLY"
)

// Statuses lists every status in lifecycle order
var Statuses = []Status{
	StatusInCreation,
	StatusPreparedForSending,
	StatusSending,
	StatusSentAndWaitingForAnswer,
	StatusSentButNotWaitingForAnswer,
	StatusSentAndAnsweredByParticipant,
	StatusSentAndAnsweredAndProcessed,
	StatusSentAndNotAnsweredAndProcessed,
	StatusReceivedUnexpectedly,
}

var transitions = map[Status]map[Status]bool{
	StatusInCreation: {
		StatusPreparedForSending: true,
	},
	StatusPreparedForSending: {
		StatusSending: true,
	},
	StatusSending: {
		StatusPreparedForSending:         true,
		StatusSentAndWaitingForAnswer:    true,
		StatusSentButNotWaitingForAnswer: true,
	},
	StatusSentAndWaitingForAnswer: {
		StatusSentAndAnsweredByParticipant:   true,
		StatusSentAndNotAnsweredAndProcessed: true,
	},
	StatusSentAndAnsweredByParticipant: {
		StatusSentAndAnsweredAndProcessed: true,
	},
}

// entryStatuses are the statuses a message may be created in
var entryStatuses = map[Status]bool{
	StatusInCreation:           true,
	StatusReceivedUnexpectedly: true,
}

// CanTransition reports whether a message may move from one status to the
// other. Staying in the same status is not a transition.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// IsTerminal reports whether no transition leaves the status
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether the status is known
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus converts a stored status name
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown dialog message status %q", s)
	}
	return st, nil
}
