// Package localfs provides an in-memory reference implementation of the
// local lock manager, share manager, and file-handle resolver collaborator
// interfaces nlmcore depends on. Locks and shares are ephemeral and lost on
// process restart - this is the shape a real deployment would back with the
// host filesystem's own advisory-lock syscalls, but the in-memory version is
// enough to run nlmd standalone and to exercise its tests.
package localfs

import (
	"context"
	"errors"
	"sync"

	"github.com/lockd/nlmd/internal/nlmcore"
)

// nlmShareConflict is returned by ShareSet when a requested access mode is
// blocked by another sysid's deny-mode reservation.
var nlmShareConflict = errors.New("localfs: conflicting share reservation")

// byteLock is one held or granted advisory lock recorded against a vnode.
type byteLock struct {
	start, length uint64
	pid           int32
	sysid         int
	excl          bool
}

// rangesOverlap reports whether two byte ranges intersect. A length of 0
// means "to end of file".
func rangesOverlap(off1, len1, off2, len2 uint64) bool {
	end1 := off1 + len1
	if len1 == 0 {
		end1 = ^uint64(0)
	}
	end2 := off2 + len2
	if len2 == 0 {
		end2 = ^uint64(0)
	}
	return end1 > off2 && end2 > off1
}

func conflicts(existing *byteLock, sysid int, d nlmcore.LockDesc) bool {
	if existing.sysid == sysid && existing.pid == d.Pid {
		return false
	}
	if !rangesOverlap(existing.start, existing.length, d.Start, d.Len) {
		return false
	}
	if !existing.excl && !d.Excl {
		return false
	}
	return true
}

// vnodeState holds every lock and share reservation pinned to one vnode,
// plus the condition variable SetLock's blocking path waits on.
type vnodeState struct {
	locks  []byteLock
	shares []shareEntry
	cond   *sync.Cond
}

type shareEntry struct {
	sysid int
	shr   nlmcore.ShareReservation
}

// LockManager is the reference nlmcore.LocalLockManager implementation.
type LockManager struct {
	mu     sync.Mutex
	vnodes map[nlmcore.VP]*vnodeState
}

// NewLockManager returns an empty, ready-to-use lock manager.
func NewLockManager() *LockManager {
	return &LockManager{vnodes: make(map[nlmcore.VP]*vnodeState)}
}

func (m *LockManager) stateFor(vp nlmcore.VP) *vnodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.vnodes[vp]
	if !ok {
		st = &vnodeState{}
		st.cond = sync.NewCond(&m.mu)
		m.vnodes[vp] = st
	}
	return st
}

func (m *LockManager) firstConflict(st *vnodeState, sysid int, d nlmcore.LockDesc) *byteLock {
	for i := range st.locks {
		if conflicts(&st.locks[i], sysid, d) {
			return &st.locks[i]
		}
	}
	return nil
}

// SetLock implements nlmcore.LocalLockManager.
func (m *LockManager) SetLock(ctx context.Context, vp nlmcore.VP, sysid int, desc nlmcore.LockDesc, block bool) (nlmcore.LockResult, *nlmcore.Holder, error) {
	st := m.stateFor(vp)

	m.mu.Lock()
	for {
		if conflict := m.firstConflict(st, sysid, desc); conflict == nil {
			st.locks = append(st.locks, byteLock{start: desc.Start, length: desc.Len, pid: desc.Pid, sysid: sysid, excl: desc.Excl})
			m.mu.Unlock()
			return nlmcore.LockOK, nil, nil
		} else if !block {
			holder := &nlmcore.Holder{Excl: conflict.excl, Pid: conflict.pid, Start: conflict.start, Len: conflict.length, Sysid: conflict.sysid}
			m.mu.Unlock()
			return nlmcore.LockEAgain, holder, nil
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				st.cond.Broadcast()
				m.mu.Unlock()
			case <-done:
			}
		}()
		st.cond.Wait()
		close(done)

		if ctx.Err() != nil {
			m.mu.Unlock()
			return nlmcore.LockEAgain, nil, ctx.Err()
		}
	}
}

// GetLock implements nlmcore.LocalLockManager.
func (m *LockManager) GetLock(vp nlmcore.VP, desc nlmcore.LockDesc) (*nlmcore.Holder, bool) {
	st := m.stateFor(vp)
	m.mu.Lock()
	defer m.mu.Unlock()
	if conflict := m.firstConflict(st, nlmcore.NoSysid, desc); conflict != nil {
		return &nlmcore.Holder{Excl: conflict.excl, Pid: conflict.pid, Start: conflict.start, Len: conflict.length, Sysid: conflict.sysid}, true
	}
	return nil, false
}

// Unlock implements nlmcore.LocalLockManager: removes the one lock matching
// sysid/pid/range exactly, waking any waiters blocked behind it.
func (m *LockManager) Unlock(vp nlmcore.VP, sysid int, desc nlmcore.LockDesc) (bool, error) {
	st := m.stateFor(vp)
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, l := range st.locks {
		if l.sysid == sysid && l.pid == desc.Pid && l.start == desc.Start && l.length == desc.Len {
			st.locks = append(st.locks[:i], st.locks[i+1:]...)
			st.cond.Broadcast()
			return true, nil
		}
	}
	return false, nil
}

// UnlockSysid implements nlmcore.LocalLockManager.
func (m *LockManager) UnlockSysid(vp nlmcore.VP, sysid int) {
	st := m.stateFor(vp)
	m.mu.Lock()
	var kept []byteLock
	removed := false
	for _, l := range st.locks {
		if l.sysid == sysid {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	st.locks = kept
	if removed {
		st.cond.Broadcast()
	}
	m.mu.Unlock()
}

// SysidHasLocksOn implements nlmcore.LocalLockManager.
func (m *LockManager) SysidHasLocksOn(vp nlmcore.VP, sysid int) bool {
	st := m.stateFor(vp)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range st.locks {
		if l.sysid == sysid {
			return true
		}
	}
	return false
}

// SysidHasAnyLocks implements nlmcore.LocalLockManager.
func (m *LockManager) SysidHasAnyLocks(sysid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.vnodes {
		for _, l := range st.locks {
			if l.sysid == sysid {
				return true
			}
		}
	}
	return false
}

// ShareManager is the reference nlmcore.LocalShareManager implementation.
type ShareManager struct {
	lm *LockManager
}

// NewShareManager binds a share manager to the vnode table shared with lm,
// since share reservations and byte-range locks both pin the same vnode.
func NewShareManager(lm *LockManager) *ShareManager {
	return &ShareManager{lm: lm}
}

// ShareSet implements nlmcore.LocalShareManager. Conflict rule mirrors NLM's
// DOS semantics: deny-mode bits on one reservation reject access-mode bits
// requested by any other sysid's reservation.
func (s *ShareManager) ShareSet(vp nlmcore.VP, sysid int, shr nlmcore.ShareReservation) error {
	st := s.lm.stateFor(vp)
	s.lm.mu.Lock()
	defer s.lm.mu.Unlock()

	for _, existing := range st.shares {
		if existing.sysid == sysid {
			continue
		}
		if existing.shr.Mode&shr.Access != 0 || shr.Mode&existing.shr.Access != 0 {
			return nlmShareConflict
		}
	}
	st.shares = append(st.shares, shareEntry{sysid: sysid, shr: shr})
	return nil
}

// ShareUnset implements nlmcore.LocalShareManager.
func (s *ShareManager) ShareUnset(vp nlmcore.VP, sysid int, shr nlmcore.ShareReservation) error {
	st := s.lm.stateFor(vp)
	s.lm.mu.Lock()
	defer s.lm.mu.Unlock()

	for i, existing := range st.shares {
		if existing.sysid == sysid && existing.shr.OH == shr.OH {
			st.shares = append(st.shares[:i], st.shares[i+1:]...)
			return nil
		}
	}
	return nil
}

// SharesForSysid implements nlmcore.LocalShareManager.
func (s *ShareManager) SharesForSysid(vp nlmcore.VP, sysid int) bool {
	st := s.lm.stateFor(vp)
	s.lm.mu.Lock()
	defer s.lm.mu.Unlock()
	for _, existing := range st.shares {
		if existing.sysid == sysid {
			return true
		}
	}
	return false
}
