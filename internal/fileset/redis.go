package fileset

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each context's collection in one Redis hash keyed
// `fileset:<contextId>`, field = content hash, value = record payload.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using a `redis://` connection string
// and verifies the connection before returning.
func NewRedisStore(ctx context.Context, connectionString string) (*RedisStore, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse redis connection string: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(contextID string) string { return "fileset:" + contextID }

func (s *RedisStore) Put(ctx context.Context, contextID, hash, payload string) error {
	if err := s.client.HSet(ctx, redisKey(contextID), hash, payload).Err(); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, contextID, hash string) (string, error) {
	payload, err := s.client.HGet(ctx, redisKey(contextID), hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get record: %w", err)
	}
	return payload, nil
}

func (s *RedisStore) List(ctx context.Context, contextID string) (map[string]string, error) {
	records, err := s.client.HGetAll(ctx, redisKey(contextID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func (s *RedisStore) Delete(ctx context.Context, contextID, hash string) error {
	removed, err := s.client.HDel(ctx, redisKey(contextID), hash).Result()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
