package state

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the table used by PostgresStore
const Schema = `
CREATE TABLE IF NOT EXISTS citizenos_states (
	state      TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS citizenos_states_created_at_idx ON citizenos_states (created_at);
`

// Execer is the subset of *pgxpool.Pool used by PostgresStore
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps one row per state. Consume deletes the row only when it
// is still fresh, which makes validation atomic.
type PostgresStore struct {
	db   Execer
	opts options
}

// NewPostgresStore creates a PostgreSQL backed store
func NewPostgresStore(db Execer, opts ...Option) *PostgresStore {
	return &PostgresStore{
		db:   db,
		opts: newOptions(opts),
	}
}

// Migrate creates the states table if needed
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create states table: %w", err)
	}
	return nil
}

// Issue implements Store.Issue. Expired rows are swept on every issue.
func (s *PostgresStore) Issue(ctx context.Context) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	now := s.opts.now()
	if _, err := s.db.Exec(ctx, `DELETE FROM citizenos_states WHERE created_at < $1`, now.Add(-s.opts.timeLimit)); err != nil {
		return "", fmt.Errorf("failed to sweep states: %w", err)
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO citizenos_states (state, created_at) VALUES ($1, $2)`, state, now); err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}
	return state, nil
}

// Consume implements Store.Consume
func (s *PostgresStore) Consume(ctx context.Context, state string) (bool, error) {
	cutoff := s.opts.now().Add(-s.opts.timeLimit)
	if _, err := s.db.Exec(ctx, `DELETE FROM citizenos_states WHERE created_at < $1`, cutoff); err != nil {
		return false, fmt.Errorf("failed to sweep states: %w", err)
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM citizenos_states WHERE state = $1 AND created_at >= $2`, state, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to consume state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
