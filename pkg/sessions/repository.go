package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Repository defines the interface for session data access
type Repository interface {
	Create(ctx context.Context, s Session) (*Session, error)

	// Get a session by its token
	GetByToken(ctx context.Context, token string) (*Session, error)

	// List sessions of a user that are active at now
	ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error)

	RevokeByToken(ctx context.Context, token string, at time.Time) error
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID, except string, at time.Time) error

	// Remove sessions expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) error
}
