// Package lock provides a fleet-wide mutual exclusion lock keyed by string.
//
// A lock record maps a key to the identity holding it and expires after a
// TTL. Acquire only succeeds when the key is absent and Release only deletes
// the key when it is still held by the caller's identity, both as single
// atomic operations against the backing store.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a lock lives if it is never released
const DefaultTTL = 60 * time.Second

const keyPrefix = "DistributedLockKey"

// Service is a key/identity based distributed mutex
type Service interface {
	// Acquire sets key to identity if key is absent and returns whether the
	// caller became the holder.
	Acquire(ctx context.Context, key, identity string, ttl time.Duration) (bool, error)

	// Release deletes key if it is held by identity. It returns false when
	// the key is absent or held by someone else.
	Release(ctx context.Context, key, identity string) (bool, error)
}

// Key is the store key guarding the resource id
func Key(id string) string {
	return keyPrefix + ":" + id
}

// NewIdentity returns a fresh identity for one lock holder
func NewIdentity() string {
	return uuid.NewString()
}
