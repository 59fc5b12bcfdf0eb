package nlmcore

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// HostFlags are the bit flags a host carries (spec 3: {MONITORED, RECLAIMING}).
type HostFlags uint32

const (
	FlagMonitored HostFlags = 1 << iota
	FlagReclaiming
)

// Identity is a peer's (name, netid, address) triple. Port is carried but
// explicitly ignored when comparing two identities for IPv4/IPv6
// families (port changes do not change identity, spec 3 and property 6).
type Identity struct {
	Name  string
	Netid string
	IP    net.IP
	Port  uint16
}

// key returns the string used to index the identity tree/map: family,
// address bytes and netid, explicitly excluding the port.
func (id Identity) key() (string, error) {
	var fam byte
	switch {
	case id.IP.To4() != nil:
		fam = 4
	case len(id.IP) == net.IPv6len:
		fam = 6
	default:
		return "", fmt.Errorf("nlmcore: address family not supported: %v", id.IP)
	}
	return fmt.Sprintf("%d|%s|%s", fam, id.Netid, id.IP.String()), nil
}

// Host is a registered remote peer: identity, allocated sysid, refcount,
// last-seen SM state, flags, vhold table, and the two condition variables
// spec 3 calls out (recovery completion, RPC-binding updates — the latter
// is opaque to this core and represented only as a placeholder condition
// so callers have somewhere to wait without this package knowing anything
// about RPC handle caching).
type Host struct {
	mu sync.Mutex

	identity Identity
	sysid    int

	refs  int
	state int32
	flags HostFlags

	idleDeadline time.Time
	onIdleList   bool

	vholds *vholdTable

	recoveryCond *sync.Cond
	bindCond     *sync.Cond

	// reclaimDone is closed by the reclaimer task when it finishes, letting
	// wait_grace wake promptly instead of only on its periodic tick.
	reclaimDone chan struct{}
}

func newHost(id Identity, sysid int) *Host {
	h := &Host{
		identity: id,
		sysid:    sysid,
		vholds:   newVholdTable(),
	}
	h.recoveryCond = sync.NewCond(&h.mu)
	h.bindCond = sync.NewCond(&h.mu)
	return h
}

// Sysid returns the host's allocated sysid.
func (h *Host) Sysid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sysid
}

// Identity returns a copy of the host's identity triple.
func (h *Host) Identity() Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

// Refs returns the current external reference count.
func (h *Host) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// State returns the last-observed SM state number for this peer.
func (h *Host) State() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsMonitored reports whether the registry has an active SM mon() for this
// host.
func (h *Host) IsMonitored() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags&FlagMonitored != 0
}

// IsReclaiming reports whether a client-side reclaimer task is active.
func (h *Host) IsReclaiming() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags&FlagReclaiming != 0
}

// VholdFor returns the vhold for vp on this host, creating it (and
// incrementing its refcnt) if absent. Callers must release it with
// ReleaseVhold when done.
func (h *Host) VholdFor(vp VP) *Vhold {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vholds.get(vp)
}

// ReleaseVhold decrements v's refcnt.
func (h *Host) ReleaseVhold(v *Vhold) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vholds.release(v)
}

// Vholds returns a snapshot of every vhold currently pinned by this host,
// for admin inspection.
func (h *Host) Vholds() []*Vhold {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vholds.all()
}

// VholdCount reports how many vholds this host currently pins.
func (h *Host) VholdCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vholds.len()
}

// vholdGC runs vhold_gc under the host lock and returns how many vholds
// were destroyed.
func (h *Host) vholdGC(locks LocalLockManager, shares LocalShareManager) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vholds.gc(h.sysid, locks, shares)
}

// hasAnyLocks reports whether this host's vhold table is nonempty or the
// local lock manager reports any lock for its sysid - the GC's
// has_any_locks(host) predicate.
func (h *Host) hasAnyLocks(locks LocalLockManager) bool {
	h.mu.Lock()
	nonEmpty := h.vholds.len() > 0
	sysid := h.sysid
	h.mu.Unlock()

	if nonEmpty {
		return true
	}
	return locks != nil && locks.SysidHasAnyLocks(sysid)
}

// setState updates the last-observed SM state for this peer under the host
// lock, as required by the concurrency model (spec 5: "A peer's state is
// updated under the host mutex").
func (h *Host) setState(state int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

// beginReclaiming sets FlagReclaiming if not already set, returning true if
// this call is the one that set it (the caller should then spawn the
// reclaimer task and take the extra reference).
func (h *Host) beginReclaiming() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.flags&FlagReclaiming != 0 {
		return false
	}
	h.flags |= FlagReclaiming
	h.reclaimDone = make(chan struct{})
	return true
}

// endReclaiming clears FlagReclaiming and wakes any wait_grace callers.
func (h *Host) endReclaiming() {
	h.mu.Lock()
	h.flags &^= FlagReclaiming
	done := h.reclaimDone
	h.reclaimDone = nil
	h.recoveryCond.Broadcast()
	h.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// waitGrace blocks until RECLAIMING clears, waking periodically so a caller
// using a cancellable context can still observe cancellation (the spec's
// "periodic wake to allow signal delivery").
func (h *Host) waitGrace(ctx interface {
	Done() <-chan struct{}
	Err() error
}, tick time.Duration) error {
	h.mu.Lock()
	for h.flags&FlagReclaiming != 0 {
		done := h.reclaimDone
		h.mu.Unlock()

		if done == nil {
			h.mu.Lock()
			continue
		}
		select {
		case <-done:
		case <-time.After(tick):
		case <-ctx.Done():
			return ctx.Err()
		}
		h.mu.Lock()
	}
	h.mu.Unlock()
	return nil
}
