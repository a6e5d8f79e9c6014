package sessionstore

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	data      Data
	expiresAt time.Time
}

// InMemoryStore implements Store in process memory
type InMemoryStore struct {
	mu   sync.RWMutex
	bags map[string]entry
	ttl  time.Duration
	now  func() time.Time
}

// NewInMemoryStore creates an in-memory visitor store
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryStore{
		bags: make(map[string]entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *InMemoryStore) Get(ctx context.Context, visitorID string) (Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.bags[visitorID]
	if !ok || s.now().After(e.expiresAt) {
		return Data{}, nil
	}
	return e.data, nil
}

func (s *InMemoryStore) Set(ctx context.Context, visitorID string, data Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bags[visitorID] = entry{data: data, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Clear(ctx context.Context, visitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bags, visitorID)
	return nil
}
