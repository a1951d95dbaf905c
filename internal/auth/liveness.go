package auth

import (
	"context"
	"time"
)

// DefaultLivenessInterval is the cadence of the periodic liveness check.
const DefaultLivenessInterval = 10 * time.Minute

// RunLiveness checks the session every interval and whenever online fires,
// until ctx ends. online may be nil.
func (m *Manager) RunLiveness(ctx context.Context, interval time.Duration, online <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultLivenessInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CheckLiveness(ctx)
		case _, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			m.log.Debug("auth: back online, checking session")
			m.CheckLiveness(ctx)
		}
	}
}
