package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis shares the response cache between processes. Values are zstd compressed and expire
// through the Redis TTL.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	logger  zerolog.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedis connects to the Redis server at url. Keys are namespaced under prefix.
func NewRedis(ctx context.Context, url, prefix string, ttl time.Duration, logger zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		logger:  logger.With().Str("component", "cache").Logger(),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Get returns the cached value. Redis errors count as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		r.misses.Add(1)
		return nil, false
	}

	value, err := r.decoder.DecodeAll(data, nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache entry corrupt")
		r.misses.Add(1)
		return nil, false
	}
	r.hits.Add(1)
	return value, true
}

// Set stores value with the cache TTL
func (r *Redis) Set(ctx context.Context, key string, value []byte) {
	data := r.encoder.EncodeAll(value, nil)
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Clear deletes the matching keys under the prefix
func (r *Redis) Clear(ctx context.Context, pattern string) int {
	match := r.prefix + "*" + escapeGlob(pattern) + "*"
	if pattern == "" {
		match = r.prefix + "*"
	}

	n := 0
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		deleted, err := r.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			r.logger.Warn().Err(err).Str("key", iter.Val()).Msg("cache delete failed")
			continue
		}
		n += int(deleted)
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache scan failed")
	}
	return n
}

// Stats reports hit counters; size is not tracked for a shared cache
func (r *Redis) Stats() Stats {
	return Stats{
		Size:   -1,
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
	}
}

// Close closes the connection pool
func (r *Redis) Close() error {
	r.encoder.Close()
	r.decoder.Close()
	return r.client.Close()
}

func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
