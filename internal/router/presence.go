package router

import (
	"context"
	"time"
)

// StartPresenceMonitor starts the background sweep that marks silent
// devices offline. A device is expired once it has sent nothing for the
// presence TTL; its socket stays open and is torn down by its own read
// loop or the next failed send.
func (r *Router) StartPresenceMonitor(ctx context.Context) {
	if r.presenceTTL <= 0 || r.sweepInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepOnce(time.Now().Add(-r.presenceTTL))
			}
		}
	}()
}

// sweepOnce expires every connected device whose lastSeen predates the
// cutoff and broadcasts the offline transitions.
func (r *Router) sweepOnce(cutoff time.Time) {
	expired := r.store.ExpireBefore(cutoff)
	for _, dev := range expired {
		r.metrics.PresenceTimeouts.Inc()
		r.broadcastPresence(dev, false)
		r.logger.Info("device presence expired", "deviceId", dev.DeviceID, "lastSeen", dev.LastSeen)
	}
}
