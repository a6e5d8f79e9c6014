package state

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "citizenos:state:"

// RedisStore keeps one key per state and lets Redis expire it. Consume is a
// single DEL, so concurrent callbacks cannot both validate the same state.
type RedisStore struct {
	client redis.Cmdable
	opts   options
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(client redis.Cmdable, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   newOptions(opts),
	}
}

// Issue implements Store.Issue
func (s *RedisStore) Issue(ctx context.Context) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	issuedAt := s.opts.now().Unix()
	if err := s.client.Set(ctx, redisKeyPrefix+state, issuedAt, s.opts.timeLimit).Err(); err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}
	return state, nil
}

// Consume implements Store.Consume
func (s *RedisStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	deleted, err := s.client.Del(ctx, redisKeyPrefix+state).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume state: %w", err)
	}
	return deleted == 1, nil
}
