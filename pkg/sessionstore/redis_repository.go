package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "citizenos:visitor:"

// RedisStore keeps visitor bags in Redis so several instances share them
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a Redis backed visitor store
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, visitorID string) (Data, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+visitorID).Bytes()
	if err == redis.Nil {
		return Data{}, nil
	}
	if err != nil {
		return Data{}, fmt.Errorf("failed to load visitor session: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, fmt.Errorf("failed to decode visitor session: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, visitorID string, data Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode visitor session: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+visitorID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store visitor session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, visitorID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+visitorID).Err(); err != nil {
		return fmt.Errorf("failed to clear visitor session: %w", err)
	}
	return nil
}
