package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "mockproxy:decision:"

// defaultRedisTimeout bounds each Redis round trip so a slow backend cannot
// stall request handling.
const defaultRedisTimeout = 50 * time.Millisecond

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" json:"addr"`
	Password string        `mapstructure:"password" json:"-"`
	DB       int           `mapstructure:"db" json:"db"`
	Prefix   string        `mapstructure:"prefix" json:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// Redis stores entries in a shared Redis instance so several proxies can
// reuse each other's resolutions for the same table version.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	puts   atomic.Uint64
	errs   atomic.Uint64
}

// NewRedis connects to the configured Redis server.
func NewRedis(cfg RedisConfig, ttl time.Duration) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis cache requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedis(client, cfg, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig, ttl time.Duration) *Redis {
	return newRedis(client, cfg, ttl)
}

func newRedis(client *redis.Client, cfg RedisConfig, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, timeout: timeout}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.errs.Add(1)
		}
		r.misses.Add(1)
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		r.errs.Add(1)
		r.misses.Add(1)
		return Entry{}, false
	}
	r.hits.Add(1)
	return e, true
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		r.errs.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.errs.Add(1)
		return
	}
	r.puts.Add(1)
}

// Clear deletes every key under the prefix.
func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			r.errs.Add(1)
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.errs.Add(1)
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats implements Cache.
func (r *Redis) Stats() Stats {
	return Stats{
		Backend: BackendRedis,
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Puts:    r.puts.Load(),
		Errors:  r.errs.Load(),
		Entries: -1,
	}
}

// Close implements Cache.
func (r *Redis) Close() error {
	return r.client.Close()
}
