package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrSubjectIdentityTaken  = errors.New("subject identity already linked to another user")
	ErrUsernameAlreadyExists = errors.New("username already exists")
)

// Repository persists local users
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
	FindBySubjectIdentity(ctx context.Context, subject string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u User) (User, error)

	// AttachSubjectIdentity links a subject identity to the user. The link
	// is write-once: a user already linked keeps its identity.
	AttachSubjectIdentity(ctx context.Context, id uuid.UUID, subject string) error

	SetMeta(ctx context.Context, id uuid.UUID, key string, value interface{}) error
}
