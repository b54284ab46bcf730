package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the judging services rely on.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	// Returns true if the key was set, false if it already existed.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error

	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns -1 if the key has no expiry and -2 if it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	Incr(ctx context.Context, key string) (int64, error)
}

// LockOps defines owner-checked distributed lock operations.
type LockOps interface {
	// TryLock acquires key for owner. Returns false if someone else holds it.
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Unlock releases key only while it is still held by owner.
	Unlock(ctx context.Context, key, owner string) error
}
