package qcompile

import (
	"context"
	"time"
)

// Backend is an optional external store querycache's S3-FIFO cache can
// spill msgpack-encoded entries to for cross-process sharing, instead of
// holding every compiled query in local memory only. Users implement this
// with whatever they already run (Redis, Memcached, a local bbolt file);
// querycache works fully in-memory when no Backend is configured.
type Backend interface {
	// Get retrieves a value from the backend.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL. If ttl is 0, the value does
	// not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the backend.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix, used when a
	// model's schema changes and every compiled query naming it must be
	// invalidated at once.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the backend.
	Clear(ctx context.Context) error
}

// CacheKey identifies a compiled query for lookup, built from the
// normalized request shape so that two structurally identical requests
// (differing only in literal argument values) share one cache entry.
type CacheKey struct {
	Model      string
	Operation  string
	Predicates string
	Include    string
	OrderBy    string
	Limit      int
	Offset     int
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return k.Model + ":" + k.Operation + ":" + k.Predicates + ":" + k.Include + ":" + k.OrderBy
}
