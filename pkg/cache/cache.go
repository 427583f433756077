// Package cache holds the short lived response cache of the fetch client. Entries are keyed by
// endpoint and parameters and expire after a fixed TTL; writes never invalidate anything, only
// an explicit full or pattern clear does.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTTL is how long a cached response stays valid
const DefaultTTL = 30 * time.Second

// Cache stores raw response bodies by key
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	// Clear removes every entry whose key contains pattern, or everything for an empty
	// pattern, and returns the number removed.
	Clear(ctx context.Context, pattern string) int
	Stats() Stats
	Close() error
}

// Stats contains cache statistics
type Stats struct {
	Size     int
	Capacity int
	Expired  int
	Hits     uint64
	Misses   uint64
}

// HitRate returns the hit rate as a percentage
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// Key builds the cache key of a request: the endpoint, an underscore and the JSON encoding
// of the parameters. Map keys are encoded in sorted order so equal parameters give equal keys.
func Key(endpoint string, params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return endpoint + "_"
	}
	return endpoint + "_" + string(data)
}
