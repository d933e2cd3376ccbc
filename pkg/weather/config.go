package weather

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/levenlabs/go-lflag"
	"github.com/redis/go-redis/v9"
)

// Configured sets up the Evaluator based on flags.
func Configured(clock clockwork.Clock) Evaluator {
	provider := lflag.String("weather-provider", "openmeteo", "Forecast provider (available: openmeteo, none)")
	baseURL := lflag.String("openmeteo-base-url", openMeteoDefaultBaseURL, "Open-Meteo API base URL")
	cacheURL := lflag.String("weather-cache-redis-url", "", "Redis URL to cache forecasts in; empty disables caching")
	cacheTTL := lflag.Duration("weather-cache-ttl", 30*time.Minute, "How long a cached forecast is reused")

	var e struct{ Evaluator }

	lflag.Do(func() {
		switch *provider {
		case "openmeteo":
			e.Evaluator = NewOpenMeteo(*baseURL, clock)
		case "none":
			e.Evaluator = Disabled()
			return
		default:
			panic(fmt.Sprintf("unknown weather provider: %s", *provider))
		}

		if *cacheURL != "" {
			opt, err := redis.ParseURL(*cacheURL)
			if err != nil {
				panic(fmt.Sprintf("invalid weather cache redis url: %v", err))
			}
			e.Evaluator = NewCached(e.Evaluator, redis.NewClient(opt), *cacheTTL)
		}
	})

	return &e
}
