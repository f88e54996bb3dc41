package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is both the SCAN COUNT hint and the DEL batch size.
const scanBatch = 100

// RedisOptions configures the Redis store.
type RedisOptions struct {
	URL          string // redis://[:password@]host:port/db; takes precedence over Addr
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis is a Store backed by a Redis server. Every key is stored under
// KeyPrefix so several services can share one database.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, o RedisOptions) (*Redis, error) {
	var opts *redis.Options
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     o.Addr,
			Password: o.Password,
			DB:       o.DB,
		}
	}
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}
	if o.DialTimeout > 0 {
		opts.DialTimeout = o.DialTimeout
	}
	if o.ReadTimeout > 0 {
		opts.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout > 0 {
		opts.WriteTimeout = o.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, prefix: o.KeyPrefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Get retrieves a value. redis.Nil is reported as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores a value with SET ... EX.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), val, max(ttl, 0)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetNX stores a value with SET ... NX EX.
func (r *Redis) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), val, max(ttl, 0)).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Exists reports whether the key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// MGet fetches several keys in one round trip.
func (r *Redis) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Delete removes keys with DEL.
func (r *Redis) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	n, err := r.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

// DeletePattern enumerates matching keys with SCAN, then deletes them in
// batches. Keys written during the scan may survive; SCAN only guarantees
// keys present for its whole duration.
func (r *Redis) DeletePattern(ctx context.Context, p Pattern) (int, error) {
	return r.deleteMatching(ctx, r.key(string(p)))
}

// Purge deletes every key under the store's prefix.
func (r *Redis) Purge(ctx context.Context) error {
	_, err := r.deleteMatching(ctx, r.prefix+"*")
	return err
}

// deleteMatching finishes the scan before deleting anything, since deleting
// mid-scan can make the cursor skip keys.
func (r *Redis) deleteMatching(ctx context.Context, match string) (int, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan %s: %w", match, err)
	}

	total := 0
	for batch := range slices.Chunk(keys, scanBatch) {
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return total, fmt.Errorf("redis del %s: %w", match, err)
		}
		total += int(n)
	}
	return total, nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
