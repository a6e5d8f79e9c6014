package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]Session // token -> session
}

// NewInMemoryRepository creates a new in-memory session repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sessions: make(map[string]Session),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, s Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.sessions[s.Token] = s
	return &s, nil
}

func (r *InMemoryRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (r *InMemoryRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive(now) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *InMemoryRepository) RevokeByToken(ctx context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	if s.RevokedAt == nil {
		s.RevokedAt = &at
		r.sessions[token] = s
	}
	return nil
}

func (r *InMemoryRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID, except string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, s := range r.sessions {
		if s.UserID != userID || token == except || s.RevokedAt != nil {
			continue
		}
		s.RevokedAt = &at
		r.sessions[token] = s
	}
	return nil
}

func (r *InMemoryRepository) DeleteExpired(ctx context.Context, before time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, s := range r.sessions {
		if !s.ExpiresAt.After(before) {
			delete(r.sessions, token)
		}
	}
	return nil
}
