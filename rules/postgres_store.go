package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, intervention_id, parent_id, sort_order,
	rule_with_placeholders, equation_sign, comparison_term_with_placeholders, comment,
	store_value_to_variable_with_name, send_message_if_true, send_message_to_supervisor,
	related_message_group_id, activate_micro_dialog_if_true, related_micro_dialog_id,
	hour_to_send_message, hours_until_unanswered, stop_intervention_when_true,
	reply_to_rule_id, reply_case, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*MonitoringRule, error) {
	var r MonitoringRule
	err := row.Scan(
		&r.ID, &r.InterventionID, &r.ParentID, &r.Order,
		&r.RuleWithPlaceholders, &r.EquationSign, &r.ComparisonTermWithPlaceholders, &r.Comment,
		&r.StoreValueToVariableWithName, &r.SendMessageIfTrue, &r.SendMessageToSupervisor,
		&r.RelatedMessageGroupID, &r.ActivateMicroDialogIfTrue, &r.RelatedMicroDialogID,
		&r.HourToSendMessage, &r.HoursUntilMessageIsHandledAsUnanswered, &r.StopInterventionWhenTrue,
		&r.ReplyToRuleID, &r.ReplyCase, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(ctx context.Context, rule *MonitoringRule) error {
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitoring_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, rule.ID, rule.InterventionID, rule.ParentID, rule.Order,
		rule.RuleWithPlaceholders, string(rule.EquationSign), rule.ComparisonTermWithPlaceholders, rule.Comment,
		rule.StoreValueToVariableWithName, rule.SendMessageIfTrue, rule.SendMessageToSupervisor,
		rule.RelatedMessageGroupID, rule.ActivateMicroDialogIfTrue, rule.RelatedMicroDialogID,
		rule.HourToSendMessage, rule.HoursUntilMessageIsHandledAsUnanswered, rule.StopInterventionWhenTrue,
		rule.ReplyToRuleID, string(rule.ReplyCase), rule.CreatedAt, rule.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*MonitoringRule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM monitoring_rules
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListByIntervention returns all rules of an intervention
func (s *PostgresRuleStore) ListByIntervention(ctx context.Context, interventionID string) ([]*MonitoringRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM monitoring_rules
		WHERE intervention_id = $1
		ORDER BY parent_id ASC, sort_order ASC
	`, interventionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	out := []*MonitoringRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(ctx context.Context, rule *MonitoringRule) error {
	rule.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE monitoring_rules
		SET parent_id = $2, sort_order = $3,
			rule_with_placeholders = $4, equation_sign = $5, comparison_term_with_placeholders = $6, comment = $7,
			store_value_to_variable_with_name = $8, send_message_if_true = $9, send_message_to_supervisor = $10,
			related_message_group_id = $11, activate_micro_dialog_if_true = $12, related_micro_dialog_id = $13,
			hour_to_send_message = $14, hours_until_unanswered = $15, stop_intervention_when_true = $16,
			reply_to_rule_id = $17, reply_case = $18, updated_at = $19
		WHERE id = $1
	`, rule.ID, rule.ParentID, rule.Order,
		rule.RuleWithPlaceholders, string(rule.EquationSign), rule.ComparisonTermWithPlaceholders, rule.Comment,
		rule.StoreValueToVariableWithName, rule.SendMessageIfTrue, rule.SendMessageToSupervisor,
		rule.RelatedMessageGroupID, rule.ActivateMicroDialogIfTrue, rule.RelatedMicroDialogID,
		rule.HourToSendMessage, rule.HoursUntilMessageIsHandledAsUnanswered, rule.StopInterventionWhenTrue,
		rule.ReplyToRuleID, string(rule.ReplyCase), rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	return nil
}

// Delete removes rules in one statement; if any id is unknown nothing is removed
func (s *PostgresRuleStore) Delete(ctx context.Context, ids ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM monitoring_rules WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to delete rules: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if int(rowsAffected) != len(ids) {
		return fmt.Errorf("%w: deleted %d of %d", ErrRuleNotFound, rowsAffected, len(ids))
	}
	return tx.Commit()
}
