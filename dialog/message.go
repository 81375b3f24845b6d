package dialog

import "time"

// Message is one outbound or inbound message of a participant's dialog.
// Zero times mean the moment has not happened yet.
type Message struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participantId"`
	Order         int    `json:"order"`
	Status        Status `json:"status"`
	Message       string `json:"message"`

	ShouldBeSentAt  time.Time `json:"shouldBeSentAt,omitempty"`
	SentAt          time.Time `json:"sentAt,omitempty"`
	ExpectsAnswer   bool      `json:"expectsAnswer"`
	UnansweredAfter time.Time `json:"unansweredAfter,omitempty"`

	AnswerReceivedAt                  time.Time `json:"answerReceivedAt,omitempty"`
	AnswerReceived                    string    `json:"answerReceived,omitempty"`
	AnswerReceivedRaw                 string    `json:"answerReceivedRaw,omitempty"`
	AnswerNotAutomaticallyProcessable bool      `json:"answerNotAutomaticallyProcessable"`

	SupervisorMessage          bool   `json:"supervisorMessage"`
	RelatedMonitoringRuleID    string `json:"relatedMonitoringRuleId,omitempty"`
	RelatedMessageGroupID      string `json:"relatedMessageGroupId,omitempty"`
	RelatedMonitoringMessageID string `json:"relatedMonitoringMessageId,omitempty"`
	ManuallySent               bool   `json:"manuallySent"`

	CreatedAt   time.Time `json:"createdAt"`
	ProcessedAt time.Time `json:"processedAt,omitempty"`
}

// Due reports whether a prepared message may be sent at now
func (m *Message) Due(now time.Time) bool {
	return m.Status == StatusPreparedForSending && !m.ShouldBeSentAt.After(now)
}

// AwaitsAnswerAt reports whether an answer received at t can be matched
// to this message
func (m *Message) AwaitsAnswerAt(t time.Time) bool {
	return m.Status == StatusSentAndWaitingForAnswer &&
		!m.AnswerNotAutomaticallyProcessable &&
		m.UnansweredAfter.After(t)
}
