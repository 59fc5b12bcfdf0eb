package nlmcore

import "sync"

// VP is an opaque reference to a locally held file, as resolved by the
// file-handle resolver collaborator. Its only required property is identity
// comparability: two VPs naming the same file must compare equal.
type VP any

// LockKind distinguishes a read (shared) lock request from a write
// (exclusive) one, mirroring the sleep request's "type" field in the spec.
type LockKind int

const (
	ReadLock LockKind = iota
	WriteLock
)

// LockDesc identifies a byte-range lock request: the range, the owning
// process id as seen by the peer, and whether it is exclusive.
type LockDesc struct {
	Start uint64
	Len   uint64
	Pid   int32
	Excl  bool
}

// Kind returns the LockKind implied by Excl, for callers that want the
// enum form.
func (d LockDesc) Kind() LockKind {
	if d.Excl {
		return WriteLock
	}
	return ReadLock
}

// SleepRequest is a server-side record of a blocking lock attempt that has
// not yet succeeded or been cancelled. Identity is all four fields equal.
type SleepRequest struct {
	Start uint64
	Len   uint64
	Pid   int32
	Type  LockKind
}

func sleepRequestFromDesc(d LockDesc) SleepRequest {
	return SleepRequest{Start: d.Start, Len: d.Len, Pid: d.Pid, Type: d.Kind()}
}

func (s SleepRequest) equal(o SleepRequest) bool {
	return s.Start == o.Start && s.Len == o.Len && s.Pid == o.Pid && s.Type == o.Type
}

// Vhold pins a local file on behalf of a host for as long as there is a
// reason to: an in-flight operation (refcnt > 0), a registered sleep
// request, or an actual lock/share owned by the host's sysid.
type Vhold struct {
	vp            VP
	refcnt        int
	sleepRequests []SleepRequest
}

// VP returns the pinned file reference.
func (v *Vhold) VP() VP { return v.vp }

// SleepRequestCount reports how many blocked lock requests are queued
// against this vhold, for admin inspection.
func (v *Vhold) SleepRequestCount() int { return len(v.sleepRequests) }

// vholdTable is the per-host map of VP -> *Vhold, insertion-ordered so GC
// can walk it deterministically.
type vholdTable struct {
	mu      sync.Mutex // guards this map; callers normally already hold host.lock
	byVP    map[VP]*Vhold
	ordered []*Vhold
}

func newVholdTable() *vholdTable {
	return &vholdTable{byVP: make(map[VP]*Vhold)}
}

// get returns the existing vhold for vp with refcnt incremented, or creates
// one with refcnt 1. Must be called with the owning host's lock held (the
// spec's double-checked-under-host.lock pattern collapses to a single
// critical section here since Go gives us that lock already).
func (t *vholdTable) get(vp VP) *Vhold {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.byVP[vp]; ok {
		v.refcnt++
		return v
	}
	v := &Vhold{vp: vp, refcnt: 1}
	t.byVP[vp] = v
	t.ordered = append(t.ordered, v)
	return v
}

// release decrements v's refcnt. Must be called with the owning host's lock
// held.
func (t *vholdTable) release(v *Vhold) {
	t.mu.Lock()
	defer t.mu.Unlock()
	assertInvariant(v.refcnt > 0, "vhold release with refcnt already 0")
	v.refcnt--
}

// busy reports whether v still has a reason to exist: an in-flight
// reference, a pending sleep request, or a live lock/share under sysid.
func (t *vholdTable) busy(v *Vhold, sysid int, locks LocalLockManager, shares LocalShareManager) bool {
	t.mu.Lock()
	refcnt := v.refcnt
	hasSleep := len(v.sleepRequests) > 0
	t.mu.Unlock()

	if refcnt > 0 || hasSleep {
		return true
	}
	if locks != nil && locks.SysidHasLocksOn(v.vp, sysid) {
		return true
	}
	if shares != nil && shares.SharesForSysid(v.vp, sysid) {
		return true
	}
	return false
}

// gc destroys every non-busy vhold, unpinning each one's vp. Must be called
// with the owning host's lock held.
func (t *vholdTable) gc(sysid int, locks LocalLockManager, shares LocalShareManager) int {
	t.mu.Lock()
	candidates := make([]*Vhold, len(t.ordered))
	copy(candidates, t.ordered)
	t.mu.Unlock()

	destroyed := 0
	var survivors []*Vhold
	for _, v := range candidates {
		if t.busy(v, sysid, locks, shares) {
			survivors = append(survivors, v)
			continue
		}
		t.mu.Lock()
		delete(t.byVP, v.vp)
		t.mu.Unlock()
		destroyed++
	}

	t.mu.Lock()
	t.ordered = survivors
	t.mu.Unlock()
	return destroyed
}

// addSleepRequest attaches a sleep request to v.
func (t *vholdTable) addSleepRequest(v *Vhold, sr SleepRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v.sleepRequests = append(v.sleepRequests, sr)
}

// removeSleepRequest removes a matching sleep request from v, if present.
// Returns true if one was removed.
func (t *vholdTable) removeSleepRequest(v *Vhold, sr SleepRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range v.sleepRequests {
		if cur.equal(sr) {
			v.sleepRequests = append(v.sleepRequests[:i], v.sleepRequests[i+1:]...)
			return true
		}
	}
	return false
}

// clearSleepRequests removes all sleep requests from v, returning them so
// the caller can free/log them after leaving the critical section.
func (t *vholdTable) clearSleepRequests(v *Vhold) []SleepRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	cleared := v.sleepRequests
	v.sleepRequests = nil
	return cleared
}

// all returns a snapshot of every vhold currently in the table.
func (t *vholdTable) all() []*Vhold {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Vhold, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// len returns the number of vholds currently pinned.
func (t *vholdTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ordered)
}
