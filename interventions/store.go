package interventions

import (
	"context"
	"errors"

	"github.com/liamcoop/interventions/communication"
)

var (
	// ErrNotFound is returned for unknown interventions, participants and message groups
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating an entity whose id is taken
	ErrExists = errors.New("already exists")
)

// Store persists interventions, their participants and message groups.
// Updates are read-modify-write under a lock held for the duration of mutate.
type Store interface {
	CreateIntervention(ctx context.Context, iv *Intervention) error
	GetIntervention(ctx context.Context, id string) (*Intervention, error)
	ListInterventions(ctx context.Context) ([]*Intervention, error)
	UpdateIntervention(ctx context.Context, id string, mutate func(*Intervention)) (*Intervention, error)

	CreateParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, id string) (*Participant, error)
	ListParticipants(ctx context.Context, interventionID string) ([]*Participant, error)
	UpdateParticipant(ctx context.Context, id string, mutate func(*Participant)) (*Participant, error)

	// FindParticipantByDialogOption resolves the sender of a received
	// message among participants of active interventions
	FindParticipantByDialogOption(ctx context.Context, option communication.DialogOption) (*Participant, error)

	CreateMessageGroup(ctx context.Context, g *MessageGroup) error
	GetMessageGroup(ctx context.Context, id string) (*MessageGroup, error)
	ListMessageGroups(ctx context.Context, interventionID string) ([]*MessageGroup, error)
}
