package variables

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a variable does not exist in the requested scope
	ErrNotFound = errors.New("variable not found")

	// ErrReadOnly is returned when a caller tries to write a computed variable
	ErrReadOnly = errors.New("variable is read-only")

	// ErrInvalidName is returned for names not matching $[a-zA-Z0-9_]+
	ErrInvalidName = errors.New("invalid variable name")

	// ErrInvalidScope is returned for scopes without a kind or owner
	ErrInvalidScope = errors.New("invalid variable scope")
)

// ScopeKind distinguishes variable owners
type ScopeKind string

const (
	ScopeSystem      ScopeKind = "system"
	ScopeParticipant ScopeKind = "participant"
	ScopeSupervisor  ScopeKind = "supervisor"
)

// Scope identifies the owner of a set of variables. System variables are
// process-global and have no owner.
type Scope struct {
	Kind  ScopeKind
	Owner string
}

// System returns the process-global scope
func System() Scope {
	return Scope{Kind: ScopeSystem}
}

// Participant returns the scope of one participant
func Participant(participantID string) Scope {
	return Scope{Kind: ScopeParticipant, Owner: participantID}
}

// Supervisor returns the scope holding supervisor-facing variables about one participant
func Supervisor(participantID string) Scope {
	return Scope{Kind: ScopeSupervisor, Owner: participantID}
}

func (s Scope) String() string {
	if s.Owner == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.Owner
}

// Validate checks the scope is addressable
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeSystem:
		if s.Owner != "" {
			return fmt.Errorf("%w: system scope cannot have an owner", ErrInvalidScope)
		}
	case ScopeParticipant, ScopeSupervisor:
		if s.Owner == "" {
			return fmt.Errorf("%w: %s scope requires an owner", ErrInvalidScope, s.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

// Variable is a named string value owned by a scope
type Variable struct {
	Name      string         `json:"name"`
	Value     string         `json:"value"`
	Scope     Scope          `json:"-"`
	UpdatedAt time.Time      `json:"updatedAt"`
	History   []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry records a value that was replaced by a later Set
type HistoryEntry struct {
	Value      string    `json:"value"`
	ReplacedAt time.Time `json:"replacedAt"`
}

// Store manages scoped variables. Implementations serialize writers per scope
// and are safe for concurrent use.
type Store interface {
	// Get returns the variable or ErrNotFound
	Get(ctx context.Context, scope Scope, name string) (*Variable, error)

	// Set overwrites the value, keeping the former one in the history when enabled
	Set(ctx context.Context, scope Scope, name, value string) error

	// Initialize sets the value only if the variable does not exist yet
	Initialize(ctx context.Context, scope Scope, name, value string) error

	// Contains reports whether the variable exists
	Contains(ctx context.Context, scope Scope, name string) (bool, error)

	// List returns all variables of a scope ordered by name
	List(ctx context.Context, scope Scope) ([]*Variable, error)

	// UpdatedSince returns the variables of a scope written at or after since
	UpdatedSince(ctx context.Context, scope Scope, since time.Time) ([]*Variable, error)
}

type options struct {
	history bool
	now     func() time.Time
}

// Option configures a Store implementation
type Option func(*options)

// WithHistory enables or disables keeping former values
func WithHistory(enabled bool) Option {
	return func(o *options) {
		o.history = enabled
	}
}

// WithClock overrides the time source used for updated-at timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{history: true, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkWrite(scope Scope, name string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return ValidateWritable(name)
}

func checkRead(scope Scope, name string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return ValidateName(name)
}
