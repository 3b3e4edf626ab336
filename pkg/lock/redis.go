package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// compare and delete in one server side step, so the key cannot expire and
// be taken by another identity between the check and the delete
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
else
	return 0
end`)

// RedisStore keeps locks in a Redis server shared by the whole fleet
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on top of an existing client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to the Redis server at addr and checks it answers
func DialRedis(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", common.ErrLockService, addr, err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Acquire(ctx context.Context, key, identity string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, identity, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: acquire %s: %v", common.ErrLockService, key, err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key, identity string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, identity).Int()
	if err != nil {
		return false, fmt.Errorf("%w: release %s: %v", common.ErrLockService, key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
