// Package redisstore is the networked, multi-process coordinator backend,
// adapted from the teacher's RedisRepository cache/lock conventions into the
// flat coordinator.Store contract.
package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"gitmine.dev/labbook/internal/coordinator"
)

// Store wraps a redis.Client as a coordinator.Store.
type Store struct {
	client *redis.Client
}

// Open connects to the Redis instance at url (e.g. "redis://localhost:6379/0").
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

// New wraps an already-constructed client, used by tests against miniredis.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, coordinator.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	return s.client.SetNX(ctx, key, value, 0).Result()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.client.Keys(ctx, prefix+"*").Result()
}

func (s *Store) Close() error { return s.client.Close() }

var _ coordinator.Store = (*Store)(nil)
