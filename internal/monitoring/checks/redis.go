package checks

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/charlesng35/foodbridge/internal/monitoring"
)

// Redis pings the shared Redis client. An unreachable server reports degraded and a nil client
// reports disabled.
func Redis(client *redis.Client, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()

		if err := client.Ping(probeCtx).Err(); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  err.Error(),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
