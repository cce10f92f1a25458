package arb

import (
	"context"
	"time"
)

// MonitorConfig holds tunable parameters for the staleness Monitor.
type MonitorConfig struct {
	// PollInterval is how frequently the monitor re-evaluates actuality.
	PollInterval time.Duration
}

// DefaultMonitorConfig returns production defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{PollInterval: time.Second}
}

// Monitor periodically re-evaluates opportunity actuality so that a ticker
// that simply stops updating flips its opportunities to non-actionable even
// when no new event arrives for the pair.
type Monitor struct {
	cfg    MonitorConfig
	engine *Engine
}

// NewMonitor creates a Monitor driving the given engine.
func NewMonitor(cfg MonitorConfig, engine *Engine) *Monitor {
	return &Monitor{cfg: cfg, engine: engine}
}

// Run re-evaluates on the configured cadence until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.engine.RefreshActuality()
		}
	}
}
