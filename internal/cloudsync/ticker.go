package cloudsync

import (
	"context"
	"time"

	"github.com/asesmartice/floorwatch/internal/logging"
)

// RunTicker drives Run on a fixed schedule until ctx is cancelled, logging
// (not returning) run errors so one failed pass never kills the loop.
func RunTicker(ctx context.Context, r *Replicator, interval time.Duration, mode Mode) {
	log := logging.For("cloudsync")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Run(ctx, mode); err != nil {
				log.Error().Err(err).Msg("cloudsync run failed")
			}
		}
	}
}
