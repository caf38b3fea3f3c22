package store

import (
	"context"
	"time"
)

// Store abstracts a single backend instance capable of the two atomic
// operations the lock algorithm needs. Implementations must guarantee that
// both operations execute as a single step on the backend; a read followed
// by a write is not an acceptable implementation of either.
type Store interface {
	// SetIfAbsent sets key=value with the given expiry only if the key is
	// currently unset. The boolean reports whether the set happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DeleteIfMatch deletes key only if the stored value equals expected.
	// The boolean reports whether a deletion happened.
	DeleteIfMatch(ctx context.Context, key, expected string) (bool, error)
	// Addr identifies the backend instance, for logs and metrics.
	Addr() string
}
