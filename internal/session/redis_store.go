package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agora/api/internal/auth"
	"github.com/redis/go-redis/v9"
)

// record is the JSON payload stored per token hash.
type record struct {
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	AvatarRef string    `json:"avatar_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps identities in Redis. Each record is written with a single
// SET so concurrent readers see either the old or the new value.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a new Redis-backed identity store
func NewRedisStore(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl, logger), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: "sess:",
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + auth.HashToken(token)
}

func (s *RedisStore) Establish(ctx context.Context, userID, username, avatarRef string) (Identity, error) {
	token, err := auth.NewToken()
	if err != nil {
		return Identity{}, fmt.Errorf("generate session token: %w", err)
	}

	payload, err := json.Marshal(record{
		UserID:    userID,
		Username:  username,
		AvatarRef: avatarRef,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Identity{}, fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(token), payload, s.ttl).Err(); err != nil {
		return Identity{}, fmt.Errorf("save session: %w", err)
	}

	return Identity{
		Token:     token,
		UserID:    userID,
		Username:  username,
		AvatarRef: avatarRef,
	}, nil
}

func (s *RedisStore) Resolve(ctx context.Context, token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	raw, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Identity{}, false
	}
	if err != nil {
		s.logger.Error("session lookup failed", "error", err)
		return Identity{}, false
	}

	var data record
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.logger.Warn("discarding unreadable session", "error", err)
		return Identity{}, false
	}

	return Identity{
		Token:     token,
		UserID:    data.UserID,
		Username:  data.Username,
		AvatarRef: data.AvatarRef,
	}, true
}

func (s *RedisStore) Destroy(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// Touch extends the lifetime of a live session. Unknown tokens are ignored.
func (s *RedisStore) Touch(ctx context.Context, token string) error {
	if err := s.client.Expire(ctx, s.key(token), s.ttl).Err(); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the connection so the flash store can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
