package state

import (
	"context"
	"sync"
	"time"
)

// InMemoryCollection implements Collection in process memory
type InMemoryCollection struct {
	states map[string]time.Time
	mutex  sync.RWMutex
}

// NewInMemoryCollection creates an empty in-memory collection
func NewInMemoryCollection() *InMemoryCollection {
	return &InMemoryCollection{
		states: make(map[string]time.Time),
	}
}

// Load returns a copy of the stored states
func (c *InMemoryCollection) Load(ctx context.Context) (map[string]time.Time, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	states := make(map[string]time.Time, len(c.states))
	for k, v := range c.states {
		states[k] = v
	}
	return states, nil
}

// Save replaces the stored states
func (c *InMemoryCollection) Save(ctx context.Context, states map[string]time.Time) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.states = make(map[string]time.Time, len(states))
	for k, v := range states {
		c.states[k] = v
	}
	return nil
}

// Count returns the number of stored states
func (c *InMemoryCollection) Count() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.states)
}
