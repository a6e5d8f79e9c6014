package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service provides session management business logic
type Service struct {
	repo Repository
	now  func() time.Time
}

// Option configures the Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new session service
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates a new session with a fresh random token
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("user_id is required")
	}
	now := s.now()
	if !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("expires_at must be in the future")
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	return s.repo.Create(ctx, Session{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Token:     token,
		ExpiresAt: req.ExpiresAt,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		CreatedAt: now,
	})
}

// Validate returns the session for token when it is still active
func (s *Service) Validate(ctx context.Context, token string) (*Session, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	session, err := s.repo.GetByToken(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !session.IsActive(s.now()) {
		return session, false, nil
	}
	return session, true, nil
}

// IsSessionValid reports whether token names an active session
func (s *Service) IsSessionValid(ctx context.Context, token string) (bool, error) {
	_, ok, err := s.Validate(ctx, token)
	return ok, err
}

// RevokeSession revokes the session with the given token. Unknown tokens
// are ignored.
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	err := s.repo.RevokeByToken(ctx, token, s.now())
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// RevokeAllSessions revokes every session of the user, optionally keeping
// the current one.
func (s *Service) RevokeAllSessions(ctx context.Context, userID uuid.UUID, exceptToken string) error {
	return s.repo.RevokeAllByUserID(ctx, userID, exceptToken, s.now())
}

// ListActiveSessionSummaries returns a simplified view of active sessions
func (s *Service) ListActiveSessionSummaries(ctx context.Context, userID uuid.UUID, currentToken string) (*SessionListResponse, error) {
	list, err := s.repo.ListActiveByUserID(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(list))
	for _, session := range list {
		summaries = append(summaries, SessionSummary{
			ID:               session.ID,
			IPAddress:        session.IPAddress,
			UserAgent:        session.UserAgent,
			CreatedAt:        session.CreatedAt,
			ExpiresAt:        session.ExpiresAt,
			IsCurrentSession: session.Token == currentToken,
		})
	}
	return &SessionListResponse{Sessions: summaries, Total: len(summaries)}, nil
}

// CleanupExpiredSessions removes expired sessions
func (s *Service) CleanupExpiredSessions(ctx context.Context) error {
	if err := s.repo.DeleteExpired(ctx, s.now()); err != nil {
		slog.Error("failed to clean up expired sessions", "err", err)
		return err
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
