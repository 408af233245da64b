package analytics

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper retires idle sessions every interval until ctx is cancelled.
// A non-positive ttl disables sweeping.
func (a *Aggregator) RunSweeper(ctx context.Context, ttl, interval time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = min(ttl, time.Minute)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sweep(ttl); n > 0 {
				logger.Info("retired idle analytics sessions", "count", n)
			}
		}
	}
}
