// Package communication defines how the engine talks to participants: the
// dialog option a participant is reached through, received messages and the
// Manager that sends and receives them.
package communication

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedOption is returned when a manager cannot deliver to a dialog option type
var ErrUnsupportedOption = errors.New("unsupported dialog option type")

// DialogOptionType names a delivery channel
type DialogOptionType string

const (
	DialogOptionSMS             DialogOptionType = "SMS"
	DialogOptionEmail           DialogOptionType = "EMAIL"
	DialogOptionSupervisorSMS   DialogOptionType = "SUPERVISOR_SMS"
	DialogOptionSupervisorEmail DialogOptionType = "SUPERVISOR_EMAIL"
	DialogOptionExternalID      DialogOptionType = "EXTERNAL_ID"
)

// IsSupervisor reports whether the channel reaches a supervisor
func (t DialogOptionType) IsSupervisor() bool {
	return t == DialogOptionSupervisorSMS || t == DialogOptionSupervisorEmail
}

// DialogOption is an address on a channel, e.g. a phone number for SMS
type DialogOption struct {
	Type DialogOptionType `json:"type"`
	Data string           `json:"data"`
}

// IsZero reports whether no option is configured
func (o DialogOption) IsZero() bool {
	return o.Type == "" || o.Data == ""
}

// ReceivedMessage is an inbound message as delivered by a channel
type ReceivedMessage struct {
	Type       DialogOptionType `json:"type"`
	Sender     string           `json:"sender"`
	Recipient  string           `json:"recipient,omitempty"`
	Message    string           `json:"message"`
	ReceivedAt time.Time        `json:"receivedAt"`
}

// Manager sends and receives messages over one or more channels
type Manager interface {
	// ReceiveMessages returns messages received since the last call
	ReceiveMessages(ctx context.Context) ([]ReceivedMessage, error)

	// SendMessage delivers text to the dialog option
	SendMessage(ctx context.Context, option DialogOption, dialogMessageID, text string) error

	// SupportedDialogOptionTypes lists the channels this manager can deliver to
	SupportedDialogOptionTypes() []DialogOptionType
}

// Supports reports whether the manager can deliver to the option type
func Supports(m Manager, t DialogOptionType) bool {
	for _, supported := range m.SupportedDialogOptionTypes() {
		if supported == t {
			return true
		}
	}
	return false
}
