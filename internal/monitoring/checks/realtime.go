package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/foodbridge/internal/monitoring"
)

// RealtimeObserver exposes the hub state the check reports.
type RealtimeObserver interface {
	ConnectionCount() int
}

// Realtime reports the local socket count. Without a hub pushes cannot happen and the check is degraded.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "realtime hub unavailable"}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d connections", observer.ConnectionCount()),
		}
	})
}
