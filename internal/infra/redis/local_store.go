package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// LocalStore is a Redis-backed implementation of app.LocalStore. Pending attendance
// batches written here outlive an agent restart.
// Keys are namespaced with prefix so several agents can share one Redis.
type LocalStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewLocalStore returns a store whose keys expire after ttl; zero keeps them until deleted.
func NewLocalStore(client *redis.Client, prefix string, ttl time.Duration) *LocalStore {
	return &LocalStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *LocalStore) Write(ctx context.Context, key string, value []byte) error {
	return errors.Wrapf(s.client.Set(ctx, s.key(key), value, s.ttl).Err(), "redis set %s", key)
}

func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return v, true, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(s.client.Del(ctx, s.key(key)).Err(), "redis del %s", key)
}

func (s *LocalStore) key(key string) string {
	return s.prefix + key
}
