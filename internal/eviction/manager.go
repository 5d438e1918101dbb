package eviction

import (
	"context"
	"log/slog"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
)

// Sweeper is the cache maintained by a Manager.
type Sweeper interface {
	// Enforce evicts entries until the cache is within budget.
	Enforce()
	// CleanupOlderThan removes non-visible entries idle for longer than maxAge
	// and returns how many were removed.
	CleanupOlderThan(maxAge time.Duration) int
	// Flush persists access statistics.
	Flush(ctx context.Context) error
}

// Manager runs periodic cache maintenance.
//
// Size based eviction also runs after every insertion; the periodic pass
// catches policies that depend on external state such as free disk space,
// and applies age based cleanup.
type Manager struct {
	sweeper  Sweeper
	interval time.Duration
	maxAge   time.Duration
}

// NewManager creates a new Manager. A zero maxAge disables age based cleanup.
func NewManager(sweeper Sweeper, interval, maxAge time.Duration) *Manager {
	return &Manager{
		sweeper:  sweeper,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Start runs the background maintenance loop until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		slog.Info("Periodic cache maintenance disabled")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush uses a fresh context so shutdown still persists stats.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			errutil.LogMsg(m.sweeper.Flush(flushCtx), "Failed to flush cache index on shutdown")
			cancel()
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance pass.
func (m *Manager) RunOnce(ctx context.Context) {
	if m.maxAge > 0 {
		if n := m.sweeper.CleanupOlderThan(m.maxAge); n > 0 {
			slog.Info("Removed idle cached media", "count", n, "max_age", m.maxAge)
		}
	}
	m.sweeper.Enforce()
	errutil.LogMsg(m.sweeper.Flush(ctx), "Failed to flush cache index")
}
