package nlmcore

import (
	"context"
	"sync"
	"time"

	"github.com/lockd/nlmd/internal/logger"
)

// GraceState tracks the startup grace period: the window right after this
// instance comes up during which new (non-reclaim) lock requests are
// refused so that peers reclaiming locks from before a crash get first
// chance at the file (spec 4.F).
type GraceState struct {
	mu       sync.RWMutex
	deadline time.Time // zero means no grace period in effect

	metrics *Metrics
}

// NewGraceState returns a state with no grace period active.
func NewGraceState(metrics *Metrics) *GraceState {
	return &GraceState{metrics: metrics}
}

// Begin starts (or restarts) a grace period of the given duration, called
// once at startup before the listener accepts requests.
func (g *GraceState) Begin(d time.Duration) {
	g.mu.Lock()
	g.deadline = time.Now().Add(d)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.gracePeriodActive.Set(1)
		g.metrics.gracePeriodRemaining.Set(d.Seconds())
	}
	logger.Info("nlmcore: grace period started", "duration", d)
}

// Active reports whether the grace period is still in effect.
func (g *GraceState) Active() bool {
	g.mu.RLock()
	deadline := g.deadline
	g.mu.RUnlock()
	if deadline.IsZero() {
		return false
	}
	return time.Now().Before(deadline)
}

// Remaining returns how much grace time is left, or zero if none.
func (g *GraceState) Remaining() time.Duration {
	g.mu.RLock()
	deadline := g.deadline
	g.mu.RUnlock()
	if deadline.IsZero() {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}

// End clears the grace period immediately - used by tests and by an admin
// override that wants to let ordinary traffic through early.
func (g *GraceState) End() {
	g.mu.Lock()
	g.deadline = time.Time{}
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.gracePeriodActive.Set(0)
		g.metrics.gracePeriodRemaining.Set(0)
	}
	logger.Info("nlmcore: grace period ended")
}

// RunTicker periodically refreshes the gracePeriodRemaining gauge and clears
// the active gauge once the deadline passes, until ctx is cancelled. Meant
// to run as a single long-lived goroutine per zone.
func (g *GraceState) RunTicker(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if g.metrics == nil {
				continue
			}
			remaining := g.Remaining()
			g.metrics.gracePeriodRemaining.Set(remaining.Seconds())
			if remaining == 0 {
				g.metrics.gracePeriodActive.Set(0)
			}
		}
	}
}

// AdmitLockRequest applies the grace-period gate to an incoming LOCK
// request: requests with reclaim=true are always admitted (that is the
// entire point of the window); others are denied while the grace period is
// active.
func (g *GraceState) AdmitLockRequest(reclaim bool) error {
	if reclaim {
		return nil
	}
	if g.Active() {
		return newError(DeniedGracePeriod, "grace period in effect")
	}
	return nil
}

// RunReclaim drives the client-side reclaim of a single host's outstanding
// locks against a server that just reported a new (higher) state number. It
// is the function normally passed as ReclaimClient to Registry.NotifyClient.
//
// reclaimFn does the actual per-lock RPC work; RunReclaim only owns the
// lifecycle: logging, metrics, and making sure RECLAIMING always clears even
// if reclaimFn panics.
func RunReclaim(metrics *Metrics, reclaimFn func(ctx context.Context, host *Host) error) ReclaimClient {
	return func(ctx context.Context, host *Host) {
		outcome := "ok"
		defer func() {
			if r := recover(); r != nil {
				outcome = "panic"
				logger.Error("nlmcore: reclaim task panicked", "host", host.Identity().Name, "panic", r)
			}
			if metrics != nil {
				metrics.reclaimsTotal.WithLabelValues(outcome).Inc()
			}
		}()

		logger.Info("nlmcore: reclaiming locks", "host", host.Identity().Name, "sysid", host.Sysid())
		if err := reclaimFn(ctx, host); err != nil {
			outcome = "error"
			logger.Warn("nlmcore: reclaim finished with errors", "host", host.Identity().Name, "error", err)
			return
		}
		logger.Info("nlmcore: reclaim complete", "host", host.Identity().Name)
	}
}
