package nlmcore

import (
	"context"
	"time"

	"github.com/lockd/nlmd/internal/logger"
)

// GC periodically sweeps the registry's idle LRU, destroying hosts whose
// idle_deadline has passed and who genuinely hold nothing (spec 4.G). It
// honors the documented lock ordering (registry lock, then per-host lock)
// by dropping the registry lock before touching any individual host and
// re-validating idleness after retaking it.
type GC struct {
	reg    *Registry
	locks  LocalLockManager
	shares LocalShareManager

	interval time.Duration
	metrics  *Metrics
}

// NewGC builds a collector for reg, sweeping every interval.
func NewGC(reg *Registry, locks LocalLockManager, shares LocalShareManager, interval time.Duration, metrics *Metrics) *GC {
	return &GC{reg: reg, locks: locks, shares: shares, interval: interval, metrics: metrics}
}

// Run loops sweeping until ctx is cancelled. Intended to be launched as a
// single goroutine per zone (the "GC thread" of spec 3's zone-global
// state).
func (g *GC) Run(ctx context.Context) {
	t := time.NewTicker(g.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Sweep(ctx)
		}
	}
}

// Sweep runs one collection pass and returns the number of hosts destroyed.
func (g *GC) Sweep(ctx context.Context) int {
	start := time.Now()
	destroyed := 0

	for _, h := range g.reg.IdleHosts() {
		if g.collectOne(ctx, h) {
			destroyed++
		}
	}

	if g.metrics != nil {
		g.metrics.gcSweepDuration.Observe(time.Since(start).Seconds())
		if destroyed > 0 {
			g.metrics.gcHostsDestroyed.Add(float64(destroyed))
		}
	}
	if destroyed > 0 {
		logger.Debug("nlmcore: GC swept hosts", "destroyed", destroyed)
	}
	return destroyed
}

// collectOne attempts to destroy a single idle host. Drops every vhold that
// is no longer busy, and only proceeds to unregister/destroy if the host is
// still idle (refs == 0), past its deadline, and holds nothing afterward -
// re-checked under the host lock because acquire/release can race a GC
// sweep in flight.
func (g *GC) collectOne(ctx context.Context, h *Host) bool {
	h.vholdGC(g.locks, g.shares)

	h.mu.Lock()
	idle := h.refs == 0 && !h.idleDeadline.IsZero() && time.Now().After(h.idleDeadline)
	empty := h.vholds.len() == 0
	h.mu.Unlock()

	if !idle || !empty {
		return false
	}
	if h.hasAnyLocks(g.locks) {
		return false
	}

	g.reg.Unregister(h)

	h.mu.Lock()
	stillEmpty := h.refs == 0 && h.vholds.len() == 0
	h.mu.Unlock()
	if !stillEmpty {
		// Acquire/release raced the unregister above; the host already
		// lost its index entry, but it still holds something, so it is
		// not eligible for destroy. This should not happen in practice
		// since Acquire only finds a host through the registry it was
		// just removed from; treat it as a broken invariant.
		assertInvariant(false, "host referenced after unregister, sysid=%d", h.Sysid())
	}

	g.reg.Unmonitor(ctx, h)
	g.reg.Destroy(h)
	return true
}
