package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:chat:%d"

// RedisStore keeps sessions in Redis so they survive restarts and can be
// shared between bot instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrSession, err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func key(chatID int64) string {
	return fmt.Sprintf(keyPrefix, chatID)
}

func (r *RedisStore) Get(ctx context.Context, chatID int64) (Session, bool, error) {
	raw, err := r.client.Get(ctx, key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("%w: get: %w", ErrSession, err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, false, fmt.Errorf("%w: decode: %w", ErrSession, err)
	}
	return s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, chatID int64, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSession, err)
	}
	if err := r.client.Set(ctx, key(chatID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %w", ErrSession, err)
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context, chatID int64) error {
	if err := r.client.Del(ctx, key(chatID)).Err(); err != nil {
		return fmt.Errorf("%w: del: %w", ErrSession, err)
	}
	return nil
}
