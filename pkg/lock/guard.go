package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// how long a release may take once the guarded work is done
const releaseTimeout = 5 * time.Second

// Guard runs work while holding the lock of a resource id
type Guard struct {
	svc    Service
	ttl    time.Duration
	logger zerolog.Logger
}

// NewGuard creates a guard over svc. A ttl of zero or less means DefaultTTL.
func NewGuard(svc Service, ttl time.Duration, logger zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{svc: svc, ttl: ttl, logger: logger}
}

// Run calls fn while holding the lock for id under a fresh identity. It
// returns ErrLockUnavailable without calling fn when the lock is held and
// ErrLockService when the store fails. The lock is released on every way
// out of fn, including a panic.
func (g *Guard) Run(ctx context.Context, id string, fn func() error) error {
	key := Key(id)
	identity := NewIdentity()

	ok, err := g.svc.Acquire(ctx, key, identity, g.ttl)
	if err != nil {
		if !errors.Is(err, common.ErrLockService) {
			err = fmt.Errorf("%w: %v", common.ErrLockService, err)
		}
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrLockUnavailable, id)
	}
	defer g.release(key, identity)

	return fn()
}

func (g *Guard) release(key, identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	ok, err := g.svc.Release(ctx, key, identity)
	if err != nil {
		g.logger.Error().Err(err).Str("key", key).Msg("failed to release lock")
		return
	}
	if !ok {
		// the TTL ran out while fn was running
		g.logger.Warn().Str("key", key).Msg("lock was no longer held at release")
	}
}
