package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the user table. The partial unique index keeps one user per
// subject identity even when two callbacks race.
const Schema = `
CREATE TABLE IF NOT EXISTS citizenos_users (
	id               UUID PRIMARY KEY,
	username         TEXT NOT NULL,
	email            TEXT NOT NULL,
	display_name     TEXT NOT NULL DEFAULT '',
	nickname         TEXT NOT NULL DEFAULT '',
	first_name       TEXT NOT NULL DEFAULT '',
	last_name        TEXT NOT NULL DEFAULT '',
	password_hash    TEXT NOT NULL DEFAULT '',
	show_admin_bar   BOOLEAN NOT NULL DEFAULT FALSE,
	subject_identity TEXT,
	meta             JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS citizenos_users_username_idx ON citizenos_users (lower(username));
CREATE INDEX IF NOT EXISTS citizenos_users_email_idx ON citizenos_users (lower(email));
CREATE UNIQUE INDEX IF NOT EXISTS citizenos_users_subject_idx ON citizenos_users (subject_identity)
	WHERE subject_identity IS NOT NULL;
`

const uniqueViolation = "23505"

// DBTX is satisfied by a pool, a connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL user repository
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the schema if needed
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate user schema: %w", err)
	}
	return nil
}

const selectUser = `
SELECT id, username, email, display_name, nickname, first_name, last_name,
       password_hash, show_admin_bar, COALESCE(subject_identity, ''), meta, created_at
FROM citizenos_users
`

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	return r.get(ctx, selectUser+"WHERE id = $1", id)
}

func (r *PostgresRepository) FindBySubjectIdentity(ctx context.Context, subject string) (User, error) {
	if subject == "" {
		return User{}, ErrUserNotFound
	}
	return r.get(ctx, selectUser+"WHERE subject_identity = $1", subject)
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	if username == "" {
		return User{}, ErrUserNotFound
	}
	return r.get(ctx, selectUser+"WHERE lower(username) = lower($1)", username)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	if email == "" {
		return User{}, ErrUserNotFound
	}
	return r.get(ctx, selectUser+"WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1", email)
}

func (r *PostgresRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM citizenos_users WHERE lower(username) = lower($1))`,
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Create(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	meta := u.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return User{}, fmt.Errorf("failed to encode user meta: %w", err)
	}

	var subject *string
	if u.SubjectIdentity != "" {
		subject = &u.SubjectIdentity
	}

	created, err := r.get(ctx, `
		INSERT INTO citizenos_users (
			id, username, email, display_name, nickname, first_name, last_name,
			password_hash, show_admin_bar, subject_identity, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)
		RETURNING id, username, email, display_name, nickname, first_name, last_name,
		          password_hash, show_admin_bar, COALESCE(subject_identity, ''), meta, created_at`,
		u.ID, u.Username, u.Email, u.DisplayName, u.Nickname, u.FirstName, u.LastName,
		u.PasswordHash, u.ShowAdminBar, subject, string(metaJSON),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "citizenos_users_subject_idx" {
				return User{}, ErrSubjectIdentityTaken
			}
			return User{}, ErrUsernameAlreadyExists
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) AttachSubjectIdentity(ctx context.Context, id uuid.UUID, subject string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE citizenos_users SET subject_identity = $2 WHERE id = $1 AND subject_identity IS NULL`,
		id, subject,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSubjectIdentityTaken
		}
		return fmt.Errorf("failed to attach subject identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// either already linked or missing
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) SetMeta(ctx context.Context, id uuid.UUID, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode meta %s: %w", key, err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE citizenos_users SET meta = meta || jsonb_build_object($2::text, $3::jsonb) WHERE id = $1`,
		id, key, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) get(ctx context.Context, query string, args ...interface{}) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Nickname, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.ShowAdminBar, &u.SubjectIdentity, &u.Meta, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.Meta == nil {
		u.Meta = map[string]interface{}{}
	}
	return u, nil
}
