package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/levenlabs/go-lflag"
	"github.com/redis/go-redis/v9"
)

// Configured sets up the Locker based on flags.
func Configured(clock clockwork.Clock) Locker {
	provider := lflag.String("lease-provider", "redis", "Lease provider to use (available: redis, memory)")
	redisURL := lflag.String("lease-redis-url", "redis://localhost:6379/0", "Redis URL used for job leases")

	var l struct{ Locker }

	lflag.Do(func() {
		switch *provider {
		case "redis":
			opt, err := redis.ParseURL(*redisURL)
			if err != nil {
				panic(fmt.Sprintf("invalid lease redis url: %v", err))
			}
			rdb := redis.NewClient(opt)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				panic(fmt.Sprintf("failed to reach lease redis: %v", err))
			}
			l.Locker = NewRedisLocker(rdb, clock)
		case "memory":
			l.Locker = NewMemoryLocker(clock)
		default:
			panic(fmt.Sprintf("unknown lease provider: %s", *provider))
		}
	})

	return &l
}
