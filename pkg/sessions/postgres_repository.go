package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the session table
const Schema = `
CREATE TABLE IF NOT EXISTS citizenos_sessions (
	id          UUID PRIMARY KEY,
	user_id     UUID NOT NULL,
	token       TEXT NOT NULL UNIQUE,
	expires_at  TIMESTAMPTZ NOT NULL,
	revoked_at  TIMESTAMPTZ,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS citizenos_sessions_user_idx ON citizenos_sessions (user_id);
`

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL session repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
	}
}

// Migrate creates the schema if needed
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate session schema: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, token, expires_at, revoked_at, ip_address, user_agent, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.ExpiresAt, &s.RevokedAt, &s.IPAddress, &s.UserAgent, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s Session) (*Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	created, err := scanSession(r.pool.QueryRow(ctx, `
		INSERT INTO citizenos_sessions (id, user_id, token, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+sessionColumns,
		s.ID, s.UserID, s.Token, s.ExpiresAt, s.IPAddress, s.UserAgent, s.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM citizenos_sessions WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM citizenos_sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) RevokeByToken(ctx context.Context, token string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE citizenos_sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE token = $1`, token, at)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PostgresRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID, except string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE citizenos_sessions SET revoked_at = $3
		WHERE user_id = $1 AND token <> $2 AND revoked_at IS NULL`, userID, except, at)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM citizenos_sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return nil
}
