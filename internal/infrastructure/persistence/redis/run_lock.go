package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InterventionCheckLock is the resource name serialising full check runs.
const InterventionCheckLock = "intervention-check"

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a SET NX lock shared by every worker instance.
type RunLock struct {
	client *redis.Client
	key    string
}

// NewRunLock creates a lock for resource.
func NewRunLock(cache *Cache, resource string) *RunLock {
	return &RunLock{client: cache.Client(), key: LockKey(resource)}
}

// TryAcquire takes the lock for ttl. acquired is false, without error, when
// another holder has it. The returned release only removes the lock while
// this holder owns it, so an expired lock taken over by another instance is
// left alone.
func (l *RunLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrCacheInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("run lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("run lock %s: release: %w", l.key, err)
		}
		return nil
	}
	return release, true, nil
}
