package state

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeLimit is how long an issued state stays valid.
const DefaultTimeLimit = 180 * time.Second

// Store issues and consumes one-time anti-replay state values.
type Store interface {
	// Issue creates a new unguessable state and records it.
	Issue(ctx context.Context) (string, error)

	// Consume reports whether the state was issued and is still fresh.
	// A state validates at most once.
	Consume(ctx context.Context, state string) (bool, error)
}

// Collection persists the whole set of outstanding states, keyed by state
// value with the time it was issued.
type Collection interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, states map[string]time.Time) error
}

// Option configures a store
type Option func(*options)

type options struct {
	timeLimit time.Duration
	now       func() time.Time
}

// WithTimeLimit sets how long an issued state stays valid
func WithTimeLimit(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeLimit = d
		}
	}
}

// WithClock overrides the time source, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{
		timeLimit: DefaultTimeLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CollectionStore keeps all states in a single persisted collection and
// read-modify-writes it on every call. Two processes sharing the same
// collection can lose each other's updates; the worst outcome is a state that
// no longer validates and a user that has to log in again.
type CollectionStore struct {
	collection Collection
	opts       options
	mu         sync.Mutex
}

// NewCollectionStore creates a store backed by the given collection
func NewCollectionStore(collection Collection, opts ...Option) *CollectionStore {
	return &CollectionStore{
		collection: collection,
		opts:       newOptions(opts),
	}
}

// Issue implements Store.Issue
func (s *CollectionStore) Issue(ctx context.Context) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.collection.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load states: %w", err)
	}
	if states == nil {
		states = make(map[string]time.Time)
	}
	states[state] = s.opts.now()

	if err := s.collection.Save(ctx, states); err != nil {
		return "", fmt.Errorf("failed to save states: %w", err)
	}
	return state, nil
}

// Consume implements Store.Consume. Expired entries are swept before the
// lookup, so an expired state never validates.
func (s *CollectionStore) Consume(ctx context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.collection.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load states: %w", err)
	}
	if states == nil {
		states = make(map[string]time.Time)
	}

	now := s.opts.now()
	for code, issuedAt := range states {
		if issuedAt.Add(s.opts.timeLimit).Before(now) {
			delete(states, code)
		}
	}

	_, valid := states[state]
	if valid {
		delete(states, state)
	}

	if err := s.collection.Save(ctx, states); err != nil {
		return false, fmt.Errorf("failed to save states: %w", err)
	}

	if !valid {
		slog.Warn("State rejected", "state", state)
	}
	return valid, nil
}

// generateState generates a cryptographically secure random state parameter
func generateState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
