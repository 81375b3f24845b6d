package dialog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store on the dialog_messages table. Status
// changes lock the row with SELECT ... FOR UPDATE and check the expected
// status inside the transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed dialog message store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const messageColumns = `id, participant_id, sort_order, status, message,
	should_be_sent_at, sent_at, expects_answer, unanswered_after,
	answer_received_at, answer_received, answer_received_raw, answer_not_automatically_processable,
	supervisor_message, related_monitoring_rule_id, related_message_group_id, related_monitoring_message_id,
	manually_sent, created_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m                                                           Message
		status                                                      string
		shouldBeSentAt, sentAt, unansweredAfter, answeredAt, doneAt sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.ParticipantID, &m.Order, &status, &m.Message,
		&shouldBeSentAt, &sentAt, &m.ExpectsAnswer, &unansweredAfter,
		&answeredAt, &m.AnswerReceived, &m.AnswerReceivedRaw, &m.AnswerNotAutomaticallyProcessable,
		&m.SupervisorMessage, &m.RelatedMonitoringRuleID, &m.RelatedMessageGroupID, &m.RelatedMonitoringMessageID,
		&m.ManuallySent, &m.CreatedAt, &doneAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = Status(status)
	m.ShouldBeSentAt = shouldBeSentAt.Time
	m.SentAt = sentAt.Time
	m.UnansweredAfter = unansweredAfter.Time
	m.AnswerReceivedAt = answeredAt.Time
	m.ProcessedAt = doneAt.Time
	return &m, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *PostgresStore) Create(ctx context.Context, m *Message) error {
	if !entryStatuses[m.Status] {
		return fmt.Errorf("%w: cannot create message in status %s", ErrInvalidTransition, m.Status)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// serializes order assignment per participant
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, m.ParticipantID); err != nil {
		return fmt.Errorf("failed to lock participant %s: %w", m.ParticipantID, err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO dialog_messages (`+messageColumns+`)
		SELECT $1, $2, COALESCE(MAX(sort_order) + 1, 0), $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, NOW(), $18
		FROM dialog_messages
		WHERE participant_id = $2
		RETURNING sort_order, created_at
	`, m.ID, m.ParticipantID, string(m.Status), m.Message,
		nullTime(m.ShouldBeSentAt), nullTime(m.SentAt), m.ExpectsAnswer, nullTime(m.UnansweredAfter),
		nullTime(m.AnswerReceivedAt), m.AnswerReceived, m.AnswerReceivedRaw, m.AnswerNotAutomaticallyProcessable,
		m.SupervisorMessage, m.RelatedMonitoringRuleID, m.RelatedMessageGroupID, m.RelatedMonitoringMessageID,
		m.ManuallySent, nullTime(m.ProcessedAt),
	).Scan(&m.Order, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dialog message: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM dialog_messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dialog message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to Status, mutate func(*Message)) (*Message, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return s.apply(ctx, id, from, to, mutate)
}

func (s *PostgresStore) Update(ctx context.Context, id string, expected Status, mutate func(*Message)) (*Message, error) {
	return s.apply(ctx, id, expected, expected, mutate)
}

func (s *PostgresStore) apply(ctx context.Context, id string, from, to Status, mutate func(*Message)) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := scanMessage(tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM dialog_messages WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock dialog message: %w", err)
	}
	if stored.Status != from {
		return nil, fmt.Errorf("%w: %s is %s, expected %s", ErrStaleStatus, id, stored.Status, from)
	}

	m := *stored
	if mutate != nil {
		mutate(&m)
	}
	m.Status = to

	_, err = tx.ExecContext(ctx, `
		UPDATE dialog_messages
		SET status = $2, message = $3,
			should_be_sent_at = $4, sent_at = $5, expects_answer = $6, unanswered_after = $7,
			answer_received_at = $8, answer_received = $9, answer_received_raw = $10,
			answer_not_automatically_processable = $11,
			supervisor_message = $12, related_monitoring_rule_id = $13, related_message_group_id = $14,
			related_monitoring_message_id = $15, manually_sent = $16, processed_at = $17
		WHERE id = $1
	`, id, string(m.Status), m.Message,
		nullTime(m.ShouldBeSentAt), nullTime(m.SentAt), m.ExpectsAnswer, nullTime(m.UnansweredAfter),
		nullTime(m.AnswerReceivedAt), m.AnswerReceived, m.AnswerReceivedRaw,
		m.AnswerNotAutomaticallyProcessable,
		m.SupervisorMessage, m.RelatedMonitoringRuleID, m.RelatedMessageGroupID,
		m.RelatedMonitoringMessageID, m.ManuallySent, nullTime(m.ProcessedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to update dialog message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dialog message: %w", err)
	}
	m.ID, m.ParticipantID, m.Order, m.CreatedAt = stored.ID, stored.ParticipantID, stored.Order, stored.CreatedAt
	return &m, nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM dialog_messages `+q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dialog messages: %w", err)
	}
	defer rows.Close()

	out := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dialog message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dialog messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]*Message, error) {
	return s.query(ctx, `WHERE status = $1 ORDER BY created_at, id`, string(status))
}

func (s *PostgresStore) ListByParticipant(ctx context.Context, participantID string) ([]*Message, error) {
	return s.query(ctx, `WHERE participant_id = $1 ORDER BY sort_order`, participantID)
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	q := `WHERE status = $1 AND (should_be_sent_at IS NULL OR should_be_sent_at <= $2)
		ORDER BY should_be_sent_at NULLS FIRST, created_at, id`
	if limit > 0 {
		return s.query(ctx, q+` LIMIT $3`, string(StatusPreparedForSending), now, limit)
	}
	return s.query(ctx, q, string(StatusPreparedForSending), now)
}

func (s *PostgresStore) ListUnansweredBefore(ctx context.Context, now time.Time) ([]*Message, error) {
	return s.query(ctx, `WHERE status = $1 AND unanswered_after <= $2 ORDER BY created_at, id`,
		string(StatusSentAndWaitingForAnswer), now)
}

func (s *PostgresStore) FindWaitingForAnswer(ctx context.Context, participantID string, receivedAt time.Time) (*Message, error) {
	found, err := s.query(ctx, `
		WHERE participant_id = $1 AND status = $2 AND supervisor_message = false
			AND answer_not_automatically_processable = false AND unanswered_after > $3
		ORDER BY sort_order DESC LIMIT 1
	`, participantID, string(StatusSentAndWaitingForAnswer), receivedAt)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no message of %s awaits an answer", ErrNotFound, participantID)
	}
	return found[0], nil
}

func (s *PostgresStore) HasReceived(ctx context.Context, participantID, raw string, receivedAt time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM dialog_messages
			WHERE participant_id = $1 AND answer_received_raw = $2 AND answer_received_at = $3
		)
	`, participantID, raw, receivedAt).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check received message: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CountByParticipantAndMonitoringMessage(ctx context.Context, participantID, monitoringMessageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dialog_messages
		WHERE participant_id = $1 AND related_monitoring_message_id = $2
	`, participantID, monitoringMessageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dialog messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM dialog_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count dialog messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) ResetSending(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE dialog_messages SET status = $1 WHERE status = $2`,
		string(StatusPreparedForSending), string(StatusSending))
	if err != nil {
		return 0, fmt.Errorf("failed to reset sending messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
