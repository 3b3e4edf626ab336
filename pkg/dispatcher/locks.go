package dispatcher

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
	"github.com/sauravfouzdar/quorumfs/pkg/lock"
)

// OpenLockService connects the lock backend named in config. An empty
// backend means memory.
func OpenLockService(ctx context.Context, config common.DispatcherConfig, logger zerolog.Logger) (lock.Service, error) {
	backend := config.LockBackend
	if backend == "" {
		backend = "memory"
	}
	return lock.Open(ctx, backend, config.RedisAddress, config.BadgerDir, logger)
}
