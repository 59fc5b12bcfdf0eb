package nlmcore

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/lockd/nlmd/internal/logger"
)

// Registry is the per-zone multi-indexed set of remote peers: a map keyed
// by identity, a map keyed by sysid, and an idle-LRU list of hosts with
// refs == 0. All three are updated atomically under reg.mu, the "registry
// RW-lock" of the lock-ordering rule in spec section 5 (modeled here as a
// plain mutex - reads are cheap enough on the expected host-count scale
// that a sync.RWMutex's extra bookkeeping is not worth it; writers
// dominate because every acquire/release touches the LRU list).
type Registry struct {
	mu sync.Mutex

	byIdentity map[string]*Host
	bySysid    map[int]*Host

	idle      *list.List // of *Host
	idleElems map[*Host]*list.Element

	sysids *SysidAllocator

	idleTimeout time.Duration
	runStopping bool

	sm     StatusMonitor
	locks  LocalLockManager
	shares LocalShareManager

	metrics *Metrics
}

// Stop marks the registry as shutting down: FindOrCreate starts refusing to
// mint new hosts, letting in-flight work drain without growing the table.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runStopping = true
}

// AllHosts returns a snapshot of every registered host, for shutdown
// cleanup.
func (r *Registry) AllHosts() []*Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Host, 0, len(r.byIdentity))
	for _, h := range r.byIdentity {
		out = append(out, h)
	}
	return out
}

// IdleHosts returns a snapshot of hosts currently on the idle LRU, ordered
// oldest-idle first, for the garbage collector to walk.
func (r *Registry) IdleHosts() []*Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Host, 0, r.idle.Len())
	for e := r.idle.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Host))
	}
	return out
}

// NewRegistry builds an empty registry. idleTimeout is the spec's
// idle_timeout config option: time after last use before a host becomes
// GC-eligible.
func NewRegistry(idleTimeout time.Duration, sm StatusMonitor, locks LocalLockManager, shares LocalShareManager, metrics *Metrics) *Registry {
	return &Registry{
		byIdentity:  make(map[string]*Host),
		bySysid:     make(map[int]*Host),
		idle:        list.New(),
		idleElems:   make(map[*Host]*list.Element),
		sysids:      NewSysidAllocator(),
		idleTimeout: idleTimeout,
		sm:          sm,
		locks:       locks,
		shares:      shares,
		metrics:     metrics,
	}
}

// Find looks up a host by identity, O(1) here (a Go map; spec calls for an
// O(log n) tree, but the externally visible contract is just "find by
// identity", which a hash map also satisfies).
func (r *Registry) Find(id Identity) (*Host, bool) {
	key, err := id.key()
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byIdentity[key]
	return h, ok
}

// FindBySysid looks up a host by its allocated sysid.
func (r *Registry) FindBySysid(sysid int) (*Host, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.bySysid[sysid]
	return h, ok
}

// FindByName looks up a host by caller name alone, used by FREE_ALL where
// the wire message carries only a hostname, not a full identity triple.
// Linear in the host count; FREE_ALL is rare enough (peer reboot) that this
// is not worth a third index.
func (r *Registry) FindByName(name string) (*Host, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.byIdentity {
		if h.Identity().Name == name {
			return h, true
		}
	}
	return nil, false
}

// shuttingDownError is returned by FindOrCreate once the registry has entered
// the STOPPING/DOWN run state.
type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "nlmcore: registry is shutting down" }

// FindOrCreate returns the existing host for id, or allocates a sysid and
// registers a new one. Uses the classic double-check pattern from spec 4.C
// and 9: the new host is built outside the lock, then the map is re-checked
// under lock before inserting, discarding the loser's sysid on a race.
func (r *Registry) FindOrCreate(id Identity, allowCreate bool) (*Host, error) {
	if h, ok := r.Find(id); ok {
		return h, nil
	}
	if !allowCreate {
		return nil, nil
	}

	key, err := id.key()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.runStopping {
		r.mu.Unlock()
		return nil, shuttingDownError{}
	}
	sysid := r.sysids.Alloc()
	r.mu.Unlock()

	if sysid == NoSysid {
		return nil, newError(DeniedNoLocks, "sysid pool exhausted")
	}

	candidate := newHost(id, sysid)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byIdentity[key]; ok {
		// Lost the race: discard our speculative sysid.
		r.sysids.Free(sysid)
		return existing, nil
	}
	if r.runStopping {
		r.sysids.Free(sysid)
		return nil, shuttingDownError{}
	}

	r.byIdentity[key] = candidate
	r.bySysid[sysid] = candidate
	r.observeSizes()
	logger.Debug("nlmcore: host created", "name", id.Name, "netid", id.Netid, "sysid", sysid)
	return candidate, nil
}

// Acquire increments h.refs, removing it from the idle LRU if present.
func (r *Registry) Acquire(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.mu.Lock()
	h.refs++
	h.mu.Unlock()

	if elem, ok := r.idleElems[h]; ok {
		r.idle.Remove(elem)
		delete(r.idleElems, h)
		h.mu.Lock()
		h.onIdleList = false
		h.mu.Unlock()
	}
	r.observeSizes()
}

// Release decrements h.refs; if it reaches zero, stamps idle_deadline and
// appends h to the tail of the idle LRU.
func (r *Registry) Release(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.mu.Lock()
	assertInvariant(h.refs > 0, "release of host with refs already 0")
	h.refs--
	zero := h.refs == 0
	if zero {
		h.idleDeadline = time.Now().Add(r.idleTimeout)
	}
	h.mu.Unlock()

	if zero {
		if _, already := r.idleElems[h]; !already {
			elem := r.idle.PushBack(h)
			r.idleElems[h] = elem
			h.mu.Lock()
			h.onIdleList = true
			h.mu.Unlock()
		}
	}
	r.observeSizes()
}

// Unregister removes h from all indexes and the idle LRU. Requires
// h.refs == 0.
func (r *Registry) Unregister(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(h)
}

func (r *Registry) unregisterLocked(h *Host) {
	h.mu.Lock()
	refs := h.refs
	key, _ := h.identity.key()
	sysid := h.sysid
	h.mu.Unlock()

	assertInvariant(refs == 0, "unregister of host with refs=%d", refs)

	delete(r.byIdentity, key)
	delete(r.bySysid, sysid)
	if elem, ok := r.idleElems[h]; ok {
		r.idle.Remove(elem)
		delete(r.idleElems, h)
	}
	r.observeSizes()
}

// Destroy frees h's sysid. It does not touch the vhold table.
// Precondition: no vholds remain (the caller runs vhold_gc first); a
// remaining vhold is a broken invariant.
func (r *Registry) Destroy(h *Host) {
	h.mu.Lock()
	remaining := h.vholds.len()
	sysid := h.sysid
	h.mu.Unlock()

	assertInvariant(remaining == 0, "destroy of host with %d vholds remaining", remaining)

	r.mu.Lock()
	r.sysids.Free(sysid)
	r.observeSizes()
	r.mu.Unlock()

	logger.Debug("nlmcore: host destroyed", "sysid", sysid)
}

// Monitor records state on first observation and, if not already flagged
// MONITORED, calls the SM mon RPC. SM failure clears the flag silently; the
// caller's own operation is never reverted (spec 7).
func (r *Registry) Monitor(ctx context.Context, h *Host, state int32) {
	h.mu.Lock()
	if h.state == 0 {
		h.state = state
	}
	alreadyMonitored := h.flags&FlagMonitored != 0
	if !alreadyMonitored {
		h.flags |= FlagMonitored
	}
	name := h.identity.Name
	sysid := h.sysid
	h.mu.Unlock()

	if alreadyMonitored || r.sm == nil {
		return
	}

	if err := r.sm.Mon(ctx, name, sysid); err != nil {
		logger.Warn("nlmcore: SM mon failed, clearing MONITORED", "host", name, "error", err)
		h.mu.Lock()
		h.flags &^= FlagMonitored
		h.mu.Unlock()
	}
}

// Unmonitor clears MONITORED and calls SM unmon. Precondition: refs == 0.
func (r *Registry) Unmonitor(ctx context.Context, h *Host) {
	h.mu.Lock()
	refs := h.refs
	monitored := h.flags&FlagMonitored != 0
	if monitored {
		h.flags &^= FlagMonitored
	}
	name := h.identity.Name
	h.mu.Unlock()

	assertInvariant(refs == 0, "unmonitor of host with refs=%d", refs)

	if monitored && r.sm != nil {
		if err := r.sm.Unmon(ctx, name); err != nil {
			logger.Warn("nlmcore: SM unmon failed", "host", name, "error", err)
		}
	}
}

// NotifyServer runs the server-side half of crash notification: updates
// state (unless newState is 0, the shutdown path), drops every pending
// sleep request on every vhold, and asks the local lock/share managers to
// drop all locks and shares owned by this host's sysid.
func (r *Registry) NotifyServer(h *Host, newState int32) {
	h.mu.Lock()
	if newState != 0 {
		h.state = newState
	}
	sysid := h.sysid
	vholds := h.vholds.all()
	h.mu.Unlock()

	for _, v := range vholds {
		cleared := h.vholds.clearSleepRequests(v)
		if len(cleared) > 0 {
			logger.Debug("nlmcore: cleared sleep requests on crash notify", "count", len(cleared))
		}
		if r.locks != nil {
			r.locks.UnlockSysid(v.VP(), sysid)
		}
	}
	if r.metrics != nil {
		r.metrics.smNotifyTotal.WithLabelValues("server").Inc()
	}
}

// NotifyClient runs the client-side half: updates state, and if not already
// RECLAIMING, flags it, takes an extra reference, and spawns the reclaimer
// task. Re-notifications while RECLAIMING are no-ops.
func (r *Registry) NotifyClient(ctx context.Context, h *Host, newState int32, reclaim ReclaimClient) {
	h.setState(newState)

	if !h.beginReclaiming() {
		return
	}
	r.Acquire(h)

	if r.metrics != nil {
		r.metrics.smNotifyTotal.WithLabelValues("client").Inc()
	}

	go func() {
		defer func() {
			h.endReclaiming()
			r.Release(h)
		}()
		if reclaim != nil {
			reclaim(ctx, h)
		}
	}()
}

func (r *Registry) observeSizes() {
	if r.metrics == nil {
		return
	}
	r.metrics.hostsActive.Set(float64(len(r.byIdentity)))
	r.metrics.hostsIdle.Set(float64(r.idle.Len()))
	r.metrics.sysidsInUse.Set(float64(r.sysids.InUse()))
}

