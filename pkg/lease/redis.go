package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "peakshift:lease:"

// releaseScript keeps the key for the remaining minimum hold, or deletes it,
// but only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	local keep = tonumber(ARGV[2])
	if keep > 0 then
		return redis.call('PEXPIRE', KEYS[1], keep)
	end
	return redis.call('DEL', KEYS[1])
else
	return 0
end`)

// RedisLocker implements Locker with SET NX PX and an owner token.
type RedisLocker struct {
	rdb   redis.UniversalClient
	clock clockwork.Clock
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker returns a Locker backed by rdb.
func NewRedisLocker(rdb redis.UniversalClient, clock clockwork.Clock) *RedisLocker {
	return &RedisLocker{rdb: rdb, clock: clock}
}

// Acquire implements Locker.
func (r *RedisLocker) Acquire(ctx context.Context, name string, maxHold, minHold time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, keyPrefix+name, token, maxHold).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{
		locker:   r,
		key:      keyPrefix + name,
		token:    token,
		acquired: r.clock.Now(),
		minHold:  minHold,
	}, true, nil
}

type redisLease struct {
	locker   *RedisLocker
	key      string
	token    string
	acquired time.Time
	minHold  time.Duration
}

func (l *redisLease) Release(ctx context.Context) error {
	keep := remainingHold(l.acquired, l.locker.clock.Now(), l.minHold)
	n, err := releaseScript.Run(ctx, l.locker.rdb, []string{l.key}, l.token, keep.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
