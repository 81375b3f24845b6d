package interventions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/interventions/communication"
)

// PostgresStore implements Store on PostgreSQL. Starting days, dialog
// status and group messages are stored as JSONB documents.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// Interventions

const interventionColumns = `id, name, active, monitoring_active, starting_days, created_at, updated_at`

func scanIntervention(row rowScanner) (*Intervention, error) {
	var iv Intervention
	var days []byte
	if err := row.Scan(&iv.ID, &iv.Name, &iv.Active, &iv.MonitoringActive, &days, &iv.CreatedAt, &iv.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(days, &iv.StartingDays); err != nil {
		return nil, fmt.Errorf("invalid starting days of intervention %s: %w", iv.ID, err)
	}
	return &iv, nil
}

func (s *PostgresStore) CreateIntervention(ctx context.Context, iv *Intervention) error {
	days, err := json.Marshal(nonNilDays(iv.StartingDays))
	if err != nil {
		return fmt.Errorf("failed to marshal starting days: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO interventions (id, name, active, monitoring_active, starting_days)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, iv.ID, iv.Name, iv.Active, iv.MonitoringActive, days).Scan(&iv.CreatedAt, &iv.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("intervention %s %w", iv.ID, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert intervention: %w", err)
	}
	return nil
}

func nonNilDays(days []time.Weekday) []time.Weekday {
	if days == nil {
		return []time.Weekday{}
	}
	return days
}

func (s *PostgresStore) GetIntervention(ctx context.Context, id string) (*Intervention, error) {
	iv, err := scanIntervention(s.db.QueryRowContext(ctx, `SELECT `+interventionColumns+` FROM interventions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intervention %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intervention: %w", err)
	}
	return iv, nil
}

func (s *PostgresStore) ListInterventions(ctx context.Context) ([]*Intervention, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+interventionColumns+` FROM interventions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list interventions: %w", err)
	}
	defer rows.Close()

	out := []*Intervention{}
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intervention: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateIntervention(ctx context.Context, id string, mutate func(*Intervention)) (*Intervention, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	iv, err := scanIntervention(tx.QueryRowContext(ctx, `SELECT `+interventionColumns+` FROM interventions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intervention %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock intervention: %w", err)
	}

	mutate(iv)
	iv.ID = id
	days, err := json.Marshal(nonNilDays(iv.StartingDays))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal starting days: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE interventions
		SET name = $2, active = $3, monitoring_active = $4, starting_days = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, id, iv.Name, iv.Active, iv.MonitoringActive, days).Scan(&iv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update intervention: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit intervention: %w", err)
	}
	return iv, nil
}

// Participants

const participantColumns = `id, intervention_id, nickname, language, group_name,
	dialog_option_type, dialog_option_data, supervisor_option_type, supervisor_option_data,
	monitoring_active, screening_done, data_available, dialog_status,
	consecutive_dispatch_failures, created_at, updated_at`

func scanParticipant(row rowScanner) (*Participant, error) {
	var p Participant
	var status []byte
	err := row.Scan(&p.ID, &p.InterventionID, &p.Nickname, &p.Language, &p.Group,
		&p.DialogOption.Type, &p.DialogOption.Data, &p.SupervisorDialogOption.Type, &p.SupervisorDialogOption.Data,
		&p.MonitoringActive, &p.ScreeningDone, &p.DataAvailable, &status,
		&p.ConsecutiveDispatchFailures, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(status, &p.DialogStatus); err != nil {
		return nil, fmt.Errorf("invalid dialog status of participant %s: %w", p.ID, err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *Participant) error {
	status, err := json.Marshal(p.DialogStatus)
	if err != nil {
		return fmt.Errorf("failed to marshal dialog status: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO participants (id, intervention_id, nickname, language, group_name,
			dialog_option_type, dialog_option_data, supervisor_option_type, supervisor_option_data,
			monitoring_active, screening_done, data_available, dialog_status, consecutive_dispatch_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, p.ID, p.InterventionID, p.Nickname, p.Language, p.Group,
		string(p.DialogOption.Type), p.DialogOption.Data, string(p.SupervisorDialogOption.Type), p.SupervisorDialogOption.Data,
		p.MonitoringActive, p.ScreeningDone, p.DataAvailable, status, p.ConsecutiveDispatchFailures,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("participant %s %w", p.ID, ErrExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("intervention %s %w", p.InterventionID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, interventionID string) ([]*Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE intervention_id = $1 ORDER BY id`, interventionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	out := []*Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, id string, mutate func(*Participant)) (*Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanParticipant(tx.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock participant: %w", err)
	}

	interventionID := p.InterventionID
	mutate(p)
	p.ID, p.InterventionID = id, interventionID

	status, err := json.Marshal(p.DialogStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dialog status: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE participants
		SET nickname = $2, language = $3, group_name = $4,
			dialog_option_type = $5, dialog_option_data = $6,
			supervisor_option_type = $7, supervisor_option_data = $8,
			monitoring_active = $9, screening_done = $10, data_available = $11,
			dialog_status = $12, consecutive_dispatch_failures = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, id, p.Nickname, p.Language, p.Group,
		string(p.DialogOption.Type), p.DialogOption.Data,
		string(p.SupervisorDialogOption.Type), p.SupervisorDialogOption.Data,
		p.MonitoringActive, p.ScreeningDone, p.DataAvailable,
		status, p.ConsecutiveDispatchFailures,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update participant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindParticipantByDialogOption(ctx context.Context, option communication.DialogOption) (*Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
		SELECT p.id, p.intervention_id, p.nickname, p.language, p.group_name,
			p.dialog_option_type, p.dialog_option_data, p.supervisor_option_type, p.supervisor_option_data,
			p.monitoring_active, p.screening_done, p.data_available, p.dialog_status,
			p.consecutive_dispatch_failures, p.created_at, p.updated_at
		FROM participants p
		JOIN interventions i ON i.id = p.intervention_id
		WHERE p.dialog_option_type = $1 AND p.dialog_option_data = $2 AND i.active = true
		ORDER BY p.created_at DESC
		LIMIT 1
	`, string(option.Type), option.Data))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant with %s %q %w", option.Type, option.Data, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

// Message groups

const groupColumns = `id, intervention_id, name, expects_answer, random_order, validation_expression, messages, created_at`

func scanGroup(row rowScanner) (*MessageGroup, error) {
	var g MessageGroup
	var doc []byte
	if err := row.Scan(&g.ID, &g.InterventionID, &g.Name, &g.ExpectsAnswer, &g.RandomOrder, &g.ValidationExpression, &doc, &g.CreatedAt); err != nil {
		return nil, err
	}
	var stored groupDocument
	if err := json.Unmarshal(doc, &stored); err != nil {
		return nil, fmt.Errorf("invalid messages of group %s: %w", g.ID, err)
	}
	g.Messages = stored.Messages
	g.SendSamePositionIfSendingAsReply = stored.SendSamePositionIfSendingAsReply
	return &g, nil
}

// groupDocument is the JSONB payload of a message group row
type groupDocument struct {
	Messages                         []MonitoringMessage `json:"messages"`
	SendSamePositionIfSendingAsReply bool                `json:"sendSamePositionIfSendingAsReply,omitempty"`
}

func (s *PostgresStore) CreateMessageGroup(ctx context.Context, g *MessageGroup) error {
	doc, err := json.Marshal(groupDocument{
		Messages:                         g.Messages,
		SendSamePositionIfSendingAsReply: g.SendSamePositionIfSendingAsReply,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO message_groups (id, intervention_id, name, expects_answer, random_order, validation_expression, messages)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, g.ID, g.InterventionID, g.Name, g.ExpectsAnswer, g.RandomOrder, g.ValidationExpression, doc).Scan(&g.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("message group %s %w", g.ID, ErrExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("intervention %s %w", g.InterventionID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to insert message group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessageGroup(ctx context.Context, id string) (*MessageGroup, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM message_groups WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message group %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListMessageGroups(ctx context.Context, interventionID string) ([]*MessageGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM message_groups WHERE intervention_id = $1 ORDER BY id`, interventionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message groups: %w", err)
	}
	defer rows.Close()

	out := []*MessageGroup{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
