package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
)

const cacheKeyPrefix = "peakshift:forecast:"

// Cached remembers forecasts per location in redis for a TTL. Nearby users
// share an entry since coordinates are rounded to roughly a kilometer.
type Cached struct {
	next Evaluator
	rdb  redis.UniversalClient
	ttl  time.Duration
}

var _ Evaluator = (*Cached)(nil)

// NewCached wraps next with a redis cache.
func NewCached(next Evaluator, rdb redis.UniversalClient, ttl time.Duration) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(p types.Profile) (string, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return "", false
	}
	return fmt.Sprintf("%s%.2f,%.2f", cacheKeyPrefix, *p.Latitude, *p.Longitude), true
}

// Evaluate implements Evaluator. Cache failures fall through to next.
func (c *Cached) Evaluate(ctx context.Context, user types.User) (Forecast, error) {
	key, ok := cacheKey(user.Profile)
	if !ok {
		return c.next.Evaluate(ctx, user)
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var f Forecast
		if err := json.Unmarshal(raw, &f); err == nil {
			return f, nil
		}
		log.Ctx(ctx).WarnContext(ctx, "bad cached forecast", slog.String("key", key))
	case err != redis.Nil:
		log.Ctx(ctx).WarnContext(ctx, "failed to read forecast cache", slog.String("key", key), slog.Any("error", err))
	}

	f, err := c.next.Evaluate(ctx, user)
	if err != nil {
		return Forecast{}, err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return f, nil
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to write forecast cache", slog.String("key", key), slog.Any("error", err))
	}
	return f, nil
}
