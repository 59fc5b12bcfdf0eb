package nlmcore

import "context"

// LockResult is the outcome of a local SetLock attempt.
type LockResult int

const (
	LockOK LockResult = iota
	LockEAgain
	LockENoLock
)

// Holder describes the lock (if any) conflicting with a TEST or a failed
// non-blocking SetLock.
type Holder struct {
	Excl   bool
	Pid    int32
	Start  uint64
	Len    uint64
	Sysid  int
}

// LocalLockManager is the external collaborator in spec section 6: advisory
// byte-range locks on local files. Out of scope for this core; only the
// interface contract is owned here. internal/localfs provides a reference
// in-memory implementation for tests and standalone operation.
type LocalLockManager interface {
	// SetLock attempts to install desc on vp under sysid. If block is true
	// and a conflict exists, SetLock blocks (holding no nlmcore lock) until
	// the conflict clears or ctx is cancelled.
	SetLock(ctx context.Context, vp VP, sysid int, desc LockDesc, block bool) (LockResult, *Holder, error)

	// GetLock reports the first lock conflicting with desc on vp, if any.
	GetLock(vp VP, desc LockDesc) (*Holder, bool)

	// Unlock releases the single range/pid/sysid-matching lock identified by
	// desc, mirroring a vnode F_UNLCK. removed is false, with a nil error,
	// if no such lock was held.
	Unlock(vp VP, sysid int, desc LockDesc) (removed bool, err error)

	// UnlockSysid drops every lock owned by sysid on vp.
	UnlockSysid(vp VP, sysid int)

	// SysidHasLocksOn reports whether sysid holds any lock on vp.
	SysidHasLocksOn(vp VP, sysid int) bool

	// SysidHasAnyLocks reports whether sysid holds any lock anywhere,
	// independent of vp - used by the garbage collector's has_any_locks
	// check.
	SysidHasAnyLocks(sysid int) bool
}

// ShareReservation is a DOS-style share-mode reservation (NLM SHARE/UNSHARE).
type ShareReservation struct {
	Mode   uint32
	Access uint32
	OH     string
}

// LocalShareManager is the external collaborator managing share-mode
// reservations on local files.
type LocalShareManager interface {
	ShareSet(vp VP, sysid int, shr ShareReservation) error
	ShareUnset(vp VP, sysid int, shr ShareReservation) error
	SharesForSysid(vp VP, sysid int) bool
}

// FileHandleResolver translates wire file-handle bytes into a local VP.
type FileHandleResolver interface {
	Resolve(fh []byte) (VP, bool)
}

// StatusMonitor is the five-operation SM client contract from spec 4.E.
type StatusMonitor interface {
	SimuCrash(ctx context.Context) error
	Stat(ctx context.Context) (nsmState int32, err error)
	Mon(ctx context.Context, hostname string, privSysid int) error
	Unmon(ctx context.Context, hostname string) error
	UnmonAll(ctx context.Context) error
}

// GrantCallback issues the NLM_GRANTED back-call to a peer after a blocked
// lock becomes available. cookie is the opaque value the peer's original
// LOCK request carried, echoed back so it can correlate the callback.
type GrantCallback interface {
	Grant(ctx context.Context, host *Host, desc LockDesc, fh []byte, cookie []byte) error
}

// ReclaimClient drives best-effort reclamation of this instance's own
// outstanding remote locks against a server that just told us it rebooted.
// Per spec 4.F the contract is: best-effort, non-blocking for the rest of
// the system, signals completion by returning.
type ReclaimClient func(ctx context.Context, host *Host)
