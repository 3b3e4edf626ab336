package lock

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

/*

Locks held in this process only. Good enough when a single dispatcher fronts
the fleet, and for tests:

1. Acquire adds the key with the caller's identity, failing if an unexpired entry exists
2. The entry expires after the TTL if nobody releases it
3. Release deletes the entry only if it still carries the caller's identity

*/

// MemoryStore is an in-process lock store
type MemoryStore struct {
	locks *cache.Cache
	mutex sync.Mutex // makes release's compare and delete one step
}

// NewMemoryStore creates an in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: cache.New(DefaultTTL, time.Minute),
	}
}

func (s *MemoryStore) Acquire(_ context.Context, key, identity string, ttl time.Duration) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Add fails if the key exists and has not expired
	if err := s.locks.Add(key, identity, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, identity string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	holder, ok := s.locks.Get(key)
	if !ok || holder.(string) != identity {
		return false, nil
	}
	s.locks.Delete(key)
	return true, nil
}
