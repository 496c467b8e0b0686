// Package health watches the inbound stream for prolonged silence and feeds
// failures back into the session.
package health

import (
	"context"
	"fmt"
	"time"

	"hyperflow/logger"
)

// Silence beyond staleFactor check intervals forces a failure transition.
const staleFactor = 3

// Monitor periodically compares the time of the last inbound frame against
// the silence budget. It races the read loop: frames reset the clock, the
// ticker trips when the stream has gone quiet.
type Monitor struct {
	interval time.Duration
	lastSeen func() time.Time
	onStale  func(reason string)
	log      *logger.Log
}

// NewMonitor builds a monitor. lastSeen reports the time of the most recent
// inbound frame; onStale is invoked once when the budget is exceeded.
func NewMonitor(interval time.Duration, lastSeen func() time.Time, onStale func(reason string)) *Monitor {
	return &Monitor{
		interval: interval,
		lastSeen: lastSeen,
		onStale:  onStale,
		log:      logger.GetLogger(),
	}
}

// Run ticks until the context is cancelled or the silence budget is
// exceeded, in which case onStale fires and the monitor exits.
func (m *Monitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}

	budget := staleFactor * m.interval
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log := m.log.WithComponent("health_monitor").WithFields(logger.Fields{
		"interval": m.interval.String(),
		"budget":   budget.String(),
	})
	log.Debug("health monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("health monitor stopped")
			return
		case <-ticker.C:
			silence := time.Since(m.lastSeen())
			if silence <= budget {
				continue
			}
			reason := fmt.Sprintf("no message received for %s (budget %s)", silence.Round(time.Millisecond), budget)
			log.WithFields(logger.Fields{"silence": silence.String()}).Warn("health check failed")
			m.onStale(reason)
			return
		}
	}
}
