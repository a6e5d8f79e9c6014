package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

// NewInMemoryRepository creates a new in-memory user repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users: make(map[uuid.UUID]User),
	}
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *InMemoryRepository) FindBySubjectIdentity(ctx context.Context, subject string) (User, error) {
	if subject == "" {
		return User{}, ErrUserNotFound
	}
	return r.find(func(u User) bool { return u.SubjectIdentity == subject })
}

func (r *InMemoryRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	if username == "" {
		return User{}, ErrUserNotFound
	}
	return r.find(func(u User) bool { return strings.EqualFold(u.Username, username) })
}

func (r *InMemoryRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	if email == "" {
		return User{}, ErrUserNotFound
	}
	return r.find(func(u User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *InMemoryRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.FindByUsername(ctx, username)
	if err == ErrUserNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *InMemoryRepository) Create(ctx context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return User{}, ErrUsernameAlreadyExists
		}
		if u.SubjectIdentity != "" && existing.SubjectIdentity == u.SubjectIdentity {
			return User{}, ErrSubjectIdentityTaken
		}
	}

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u = copyUser(u)
	r.users[u.ID] = u
	return copyUser(u), nil
}

func (r *InMemoryRepository) AttachSubjectIdentity(ctx context.Context, id uuid.UUID, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.SubjectIdentity != "" {
		return nil
	}
	for otherID, other := range r.users {
		if otherID != id && other.SubjectIdentity == subject {
			return ErrSubjectIdentityTaken
		}
	}
	u.SubjectIdentity = subject
	r.users[id] = u
	return nil
}

func (r *InMemoryRepository) SetMeta(ctx context.Context, id uuid.UUID, key string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u = copyUser(u)
	u.Meta[key] = value
	r.users[id] = u
	return nil
}

func (r *InMemoryRepository) find(match func(User) bool) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return User{}, ErrUserNotFound
}

func copyUser(u User) User {
	meta := make(map[string]interface{}, len(u.Meta))
	for k, v := range u.Meta {
		meta[k] = v
	}
	u.Meta = meta
	return u
}
