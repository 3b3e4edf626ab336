package lock

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Open connects the lock store named by backend: memory, redis or badger.
// redisAddr and badgerDir are only read by their own backend.
func Open(ctx context.Context, backend, redisAddr, badgerDir string, logger zerolog.Logger) (Service, error) {
	switch backend {
	case "memory":
		logger.Warn().Msg("using in-process locks, only safe with a single process")
		return NewMemoryStore(), nil

	case "redis":
		store, err := DialRedis(ctx, redisAddr)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("address", redisAddr).Msg("connected to redis lock store")
		return store, nil

	case "badger":
		store, err := OpenBadgerStore(badgerDir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("dir", badgerDir).Msg("opened badger lock store")
		return store, nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", backend)
}
