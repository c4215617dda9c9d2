package flash

import (
	"context"
	"fmt"
	"time"

	"agora/api/internal/auth"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an undrained message survives.
const DefaultTTL = 10 * time.Minute

// RedisStore keeps one list per (token, category).
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "flash:", ttl: ttl}
}

func (s *RedisStore) key(token, category string) string {
	return s.prefix + auth.HashToken(token) + ":" + category
}

func (s *RedisStore) Push(ctx context.Context, token, category, text string) error {
	key := s.key(token, category)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, text)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push flash: %w", err)
	}
	return nil
}

// Drain reads and deletes the list inside MULTI/EXEC so a concurrent push to
// the same key lands either in this result or in the next drain.
func (s *RedisStore) Drain(ctx context.Context, token, category string) ([]string, error) {
	key := s.key(token, category)
	var values *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		values = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain flash: %w", err)
	}
	out := values.Val()
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, token string) error {
	pattern := s.prefix + auth.HashToken(token) + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 50).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan flash keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear flash: %w", err)
	}
	return nil
}
