package nlmcore

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus counters and gauges for the host/vhold/sysid
// engine, modeled on the shape of a lock-manager metrics struct: state
// gauges updated on every registry mutation, counters for terminal outcomes,
// a histogram for GC sweep cost.
type Metrics struct {
	hostsActive   prometheus.Gauge
	hostsIdle     prometheus.Gauge
	sysidsInUse   prometheus.Gauge
	vholdsActive  prometheus.Gauge
	slocksBlocked prometheus.Gauge

	lockRequestsTotal *prometheus.CounterVec
	gcHostsDestroyed  prometheus.Counter
	gcSweepDuration   prometheus.Histogram

	gracePeriodActive    prometheus.Gauge
	gracePeriodRemaining prometheus.Gauge
	reclaimsTotal        *prometheus.CounterVec

	smNotifyTotal *prometheus.CounterVec
}

// Outcome label values recorded against lockRequestsTotal.
const (
	OutcomeGranted     = "granted"
	OutcomeDenied      = "denied"
	OutcomeBlocked     = "blocked"
	OutcomeNoLocks     = "denied_nolocks"
	OutcomeGracePeriod = "denied_grace_period"
	OutcomeStaleFH     = "stale_fh"
	OutcomeFailed      = "failed"
)

// NewMetrics registers the nlmcore metric family against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hostsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlmd", Subsystem: "hosts", Name: "active",
			Help: "Hosts currently registered (refs > 0 or idle but not yet reaped).",
		}),
		hostsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlmd", Subsystem: "hosts", Name: "idle",
			Help: "Hosts on the idle LRU list awaiting GC.",
		}),
		sysidsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlmd", Subsystem: "sysid", Name: "in_use",
			Help: "Sysids currently allocated.",
		}),
		vholdsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlmd", Subsystem: "vhold", Name: "active",
			Help: "Vholds currently pinned across all hosts.",
		}),
		slocksBlocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlmd", Subsystem: "slock", Name: "blocked",
			Help: "Client-side sleeping locks currently in state BLOCKED.",
		}),
		lockRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlmd", Subsystem: "lock", Name: "requests_total",
			Help: "LOCK/UNLOCK requests by terminal outcome.",
		}, []string{"procedure", "outcome"}),
		gcHostsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nlmd", Subsystem: "gc", Name: "hosts_destroyed_total",
			Help: "Hosts destroyed by the garbage collector.",
		}),
		gcSweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nlmd", Subsystem: "gc", Name: "sweep_duration_seconds",
			Help:    "Wall time of one idle-LRU GC sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		gracePeriodActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlmd", Subsystem: "grace", Name: "active",
			Help: "1 while the startup grace period is in effect, 0 otherwise.",
		}),
		gracePeriodRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlmd", Subsystem: "grace", Name: "remaining_seconds",
			Help: "Seconds left in the current grace period.",
		}),
		reclaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlmd", Subsystem: "grace", Name: "reclaims_total",
			Help: "Reclaimer task completions by host, labeled by outcome.",
		}, []string{"outcome"}),
		smNotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlmd", Subsystem: "sm", Name: "notify_total",
			Help: "SM NOTIFY1 deliveries processed, by side (server/client).",
		}, []string{"side"}),
	}

	for _, c := range []prometheus.Collector{
		m.hostsActive, m.hostsIdle, m.sysidsInUse, m.vholdsActive, m.slocksBlocked,
		m.lockRequestsTotal, m.gcHostsDestroyed, m.gcSweepDuration,
		m.gracePeriodActive, m.gracePeriodRemaining, m.reclaimsTotal, m.smNotifyTotal,
	} {
		reg.MustRegister(c)
	}

	return m
}
