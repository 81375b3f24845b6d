package variables

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by the variables and
// variable_history tables. Writers to the same variable are serialized by a
// row lock.
type PostgresStore struct {
	db   *sql.DB
	opts options
}

// NewPostgresStore creates a PostgreSQL-backed variable store
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{
		db:   db,
		opts: buildOptions(opts),
	}
}

// Get returns the variable together with its history
func (s *PostgresStore) Get(ctx context.Context, scope Scope, name string) (*Variable, error) {
	if err := checkRead(scope, name); err != nil {
		return nil, err
	}

	v := &Variable{Name: name, Scope: scope}
	err := s.db.QueryRowContext(ctx, `
		SELECT value, updated_at
		FROM variables
		WHERE scope_kind = $1 AND scope_owner = $2 AND name = $3
	`, scope.Kind, scope.Owner, name).Scan(&v.Value, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variable %s: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT value, replaced_at
		FROM variable_history
		WHERE scope_kind = $1 AND scope_owner = $2 AND name = $3
		ORDER BY id ASC
	`, scope.Kind, scope.Owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Value, &h.ReplacedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		v.History = append(v.History, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return v, nil
}

// Set overwrites the variable, recording the former value when history is enabled
func (s *PostgresStore) Set(ctx context.Context, scope Scope, name, value string) error {
	if err := checkWrite(scope, name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.opts.now()

	var previous string
	err = tx.QueryRowContext(ctx, `
		SELECT value FROM variables
		WHERE scope_kind = $1 AND scope_owner = $2 AND name = $3
		FOR UPDATE
	`, scope.Kind, scope.Owner, name).Scan(&previous)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to lock variable %s: %w", name, err)
	case s.opts.history:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO variable_history (scope_kind, scope_owner, name, value, replaced_at)
			VALUES ($1, $2, $3, $4, $5)
		`, scope.Kind, scope.Owner, name, previous, now); err != nil {
			return fmt.Errorf("failed to record history of %s: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO variables (scope_kind, scope_owner, name, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope_kind, scope_owner, name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, scope.Kind, scope.Owner, name, value, now); err != nil {
		return fmt.Errorf("failed to write variable %s: %w", name, err)
	}

	return tx.Commit()
}

// Initialize inserts the variable if it is missing
func (s *PostgresStore) Initialize(ctx context.Context, scope Scope, name, value string) error {
	if err := checkWrite(scope, name); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variables (scope_kind, scope_owner, name, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope_kind, scope_owner, name) DO NOTHING
	`, scope.Kind, scope.Owner, name, value, s.opts.now())
	if err != nil {
		return fmt.Errorf("failed to initialize variable %s: %w", name, err)
	}
	return nil
}

// Contains reports whether the variable exists
func (s *PostgresStore) Contains(ctx context.Context, scope Scope, name string) (bool, error) {
	if err := checkRead(scope, name); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM variables WHERE scope_kind = $1 AND scope_owner = $2 AND name = $3)
	`, scope.Kind, scope.Owner, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check variable %s: %w", name, err)
	}
	return exists, nil
}

// List returns all variables of a scope without history
func (s *PostgresStore) List(ctx context.Context, scope Scope) ([]*Variable, error) {
	return s.UpdatedSince(ctx, scope, time.Time{})
}

// UpdatedSince returns the variables written at or after since, without history
func (s *PostgresStore) UpdatedSince(ctx context.Context, scope Scope, since time.Time) ([]*Variable, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, updated_at
		FROM variables
		WHERE scope_kind = $1 AND scope_owner = $2 AND updated_at >= $3
		ORDER BY name ASC
	`, scope.Kind, scope.Owner, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	defer rows.Close()

	out := []*Variable{}
	for rows.Next() {
		v := &Variable{Scope: scope}
		if err := rows.Scan(&v.Name, &v.Value, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variables: %w", err)
	}
	return out, nil
}
