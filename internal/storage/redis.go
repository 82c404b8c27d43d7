package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores values as plain Redis strings. It lets several daemons
// (for example a team sharing one capture store) point at the same data.
type RedisBackend struct {
	client *redis.Client
}

// OpenRedis connects to the Redis instance described by url
// (redis://[user:pass@]host:port/db) and verifies it answers PING.
func OpenRedis(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackend wraps an existing client without checking connectivity.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Size(ctx context.Context, prefix string) (int64, error) {
	var total int64
	iter := r.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := r.client.StrLen(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("measuring %s: %w", key, err)
		}
		total += int64(len(key)) + n
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scanning %q: %w", prefix, err)
	}
	return total, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
