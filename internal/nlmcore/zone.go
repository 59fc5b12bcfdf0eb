package nlmcore

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lockd/nlmd/internal/logger"
)

// RunStatus mirrors the zone's lifecycle (spec 3: run_status).
type RunStatus int32

const (
	Starting RunStatus = iota
	Up
	Stopping
	Down
)

// ZoneConfig bundles the tunables spec 6 calls out as configuration options.
type ZoneConfig struct {
	GracePeriod    time.Duration
	IdleTimeout    time.Duration
	RetransTimeout time.Duration
	GCInterval     time.Duration
}

func (c *ZoneConfig) setDefaults() {
	if c.GracePeriod == 0 {
		c.GracePeriod = 45 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.RetransTimeout == 0 {
		c.RetransTimeout = 5 * time.Second
	}
	if c.GCInterval == 0 {
		c.GCInterval = 30 * time.Second
	}
}

// Zone is the top-level host/lock-state engine: one per server instance,
// owning the host registry, the client-side sleeping-lock table, the SM
// client, the grace timer and the garbage collector (spec 3's "zone-global
// state"). Exactly one Zone should exist per running nlmd process.
type Zone struct {
	mu sync.Mutex

	cfg ZoneConfig

	status RunStatus

	Registry *Registry
	Slocks   *SleepingLockTable
	Grace    *GraceState
	SM       StatusMonitor

	locks  LocalLockManager
	shares LocalShareManager
	fh     FileHandleResolver
	grant  GrantCallback

	gc *GC

	metrics *Metrics

	gcCancel context.CancelFunc
	gcDone   chan struct{}

	nsmState int32
}

// NewZone wires up a Zone from its collaborators. sm may be nil for a
// degraded mode that skips all SM interaction (useful in tests). metrics
// may be nil, in which case the zone registers its own throwaway registry
// so callers (tests, mainly) don't need to wire up Prometheus themselves.
func NewZone(cfg ZoneConfig, sm StatusMonitor, locks LocalLockManager, shares LocalShareManager, fh FileHandleResolver, grant GrantCallback, metrics *Metrics) *Zone {
	cfg.setDefaults()
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	z := &Zone{
		cfg:     cfg,
		status:  Starting,
		Grace:   NewGraceState(metrics),
		SM:      sm,
		locks:   locks,
		shares:  shares,
		fh:      fh,
		grant:   grant,
		metrics: metrics,
	}
	z.Registry = NewRegistry(cfg.IdleTimeout, sm, locks, shares, metrics)
	z.Slocks = NewSleepingLockTable(metrics)
	z.gc = NewGC(z.Registry, locks, shares, cfg.GCInterval, metrics)
	return z
}

// Start runs the SM startup handshake (simu_crash, then fetch nsm_state),
// begins the grace period, launches the GC loop, and marks the zone UP.
// Idempotent only in the sense that calling it twice restarts the GC
// goroutine; callers should call it exactly once.
func (z *Zone) Start(ctx context.Context) {
	z.mu.Lock()
	z.status = Starting
	z.mu.Unlock()

	if z.SM != nil {
		if err := z.SM.SimuCrash(ctx); err != nil {
			logger.Warn("nlmcore: SM simu_crash failed", "error", err)
		}
		if state, err := z.SM.Stat(ctx); err != nil {
			logger.Warn("nlmcore: SM stat failed", "error", err)
		} else {
			z.mu.Lock()
			z.nsmState = state
			z.mu.Unlock()
		}
	}

	z.Grace.Begin(z.cfg.GracePeriod)

	gcCtx, cancel := context.WithCancel(ctx)
	z.gcCancel = cancel
	z.gcDone = make(chan struct{})
	go func() {
		defer close(z.gcDone)
		z.gc.Run(gcCtx)
	}()
	go z.Grace.RunTicker(gcCtx, 5*time.Second)

	z.mu.Lock()
	z.status = Up
	z.mu.Unlock()
	logger.Info("nlmcore: zone started", "grace_period", z.cfg.GracePeriod, "idle_timeout", z.cfg.IdleTimeout)
}

// ResolveFH translates wire file-handle bytes into this zone's VP space,
// for callers (the GRANTED inbound handler) that need to resolve a handle
// outside of one of the request-handler methods above.
func (z *Zone) ResolveFH(fh []byte) (VP, bool) {
	return z.fh.Resolve(fh)
}

// Status returns the current run status.
func (z *Zone) Status() RunStatus {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.status
}

// NSMState returns the incarnation number fetched from the local SM at
// startup, 0 if Start has not run yet or no SM client was configured.
func (z *Zone) NSMState() int32 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.nsmState
}

// Shutdown implements the STOPPING sequence from spec 5: refuse new hosts,
// stop the GC, run crash-equivalent cleanup (state==0) on every registered
// host, drain the idle list, then tear down the SM client.
func (z *Zone) Shutdown(ctx context.Context) {
	z.mu.Lock()
	z.status = Stopping
	z.mu.Unlock()
	logger.Info("nlmcore: zone stopping")

	z.Registry.Stop()

	if z.gcCancel != nil {
		z.gcCancel()
		<-z.gcDone
	}

	for _, h := range z.Registry.AllHosts() {
		z.Registry.NotifyServer(h, 0)
	}

	const maxDrainAttempts = 20
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < maxDrainAttempts; attempt++ {
		remaining := 0
		for _, h := range z.Registry.IdleHosts() {
			if z.gc.collectOne(ctx, h) {
				continue
			}
			remaining++
		}
		if remaining == 0 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			attempt = maxDrainAttempts
		}
	}

	if z.SM != nil {
		if err := z.SM.UnmonAll(ctx); err != nil {
			logger.Warn("nlmcore: SM unmon_all failed during shutdown", "error", err)
		}
	}

	z.mu.Lock()
	z.status = Down
	z.mu.Unlock()
	logger.Info("nlmcore: zone stopped")
}
