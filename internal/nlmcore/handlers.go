package nlmcore

import (
	"context"
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
)

// These are thin orchestrations over the other components; the wire-level
// NLM/NSM dispatchers decode arguments into the types below, call one of
// these methods, and encode the returned Code back onto the wire.

// resolveHost finds (or, if allowCreate, creates) the host for id, applying
// the fan-out-on-stale-state check from the LOCK contract: if the caller's
// reported state differs from what we last observed, the peer rebooted
// between our last interaction and this call, so we run crash notification
// before doing anything else.
func (z *Zone) resolveHost(ctx context.Context, id Identity, allowCreate bool, peerState int32, fanOutOnMismatch bool) (*Host, error) {
	h, err := z.Registry.FindOrCreate(id, allowCreate)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	if fanOutOnMismatch && peerState != 0 && h.State() != 0 && h.State() != peerState {
		logger.Info("nlmcore: peer state mismatch, running crash fan-out", "host", id.Name, "old", h.State(), "new", peerState)
		z.Registry.NotifyServer(h, peerState)
		z.Slocks.CancelAllFor(h)
	}
	return h, nil
}

// Test implements NLM_TEST: report whether desc would conflict, without
// taking or queuing anything.
func (z *Zone) Test(ctx context.Context, id Identity, fhBytes []byte, desc LockDesc) (Code, *Holder, error) {
	if _, err := z.Registry.FindOrCreate(id, true); err != nil {
		return Failed, nil, err
	}
	if err := z.Grace.AdmitLockRequest(false); err != nil {
		return DeniedGracePeriod, nil, nil
	}

	vp, ok := z.fh.Resolve(fhBytes)
	if !ok {
		return StaleFH, nil, nil
	}

	if z.locks == nil {
		return Granted, nil, nil
	}
	holder, conflict := z.locks.GetLock(vp, desc)
	if !conflict {
		return Granted, nil, nil
	}
	return Denied, holder, nil
}

// LockResultOutcome carries the terminal Code for an NLM_LOCK request. For
// BLOCKED, the grant (if any) is delivered later via an async back-call;
// there is nothing further for the caller to wait on here.
type LockResultOutcome struct {
	Code Code
}

// Lock implements NLM_LOCK. monitorCapable indicates whether the transport
// gave us a usable callback address for this peer; per spec 4.H we only
// call SM mon for peers we could actually notify.
func (z *Zone) Lock(ctx context.Context, id Identity, fhBytes []byte, desc LockDesc, block, reclaim bool, peerState int32, monitorCapable bool, cookie []byte) (LockResultOutcome, error) {
	h, err := z.resolveHost(ctx, id, true, peerState, true)
	if err != nil {
		return LockResultOutcome{}, err
	}
	h.setState(peerState)

	if err := z.Grace.AdmitLockRequest(reclaim); err != nil {
		return LockResultOutcome{Code: DeniedGracePeriod}, nil
	}

	vp, ok := z.fh.Resolve(fhBytes)
	if !ok {
		return LockResultOutcome{Code: StaleFH}, nil
	}

	z.Registry.Acquire(h)
	defer z.Registry.Release(h)

	v := h.VholdFor(vp)
	defer h.ReleaseVhold(v)

	if z.locks == nil {
		return LockResultOutcome{Code: Granted}, nil
	}

	result, holder, err := z.locks.SetLock(ctx, vp, h.Sysid(), desc, false)
	if err != nil {
		return LockResultOutcome{Code: Failed}, err
	}

	switch result {
	case LockOK:
		if monitorCapable {
			z.Registry.Monitor(ctx, h, peerState)
		}
		if z.metrics != nil {
			z.metrics.lockRequestsTotal.WithLabelValues("lock", OutcomeGranted).Inc()
		}
		return LockResultOutcome{Code: Granted}, nil

	case LockENoLock:
		if z.metrics != nil {
			z.metrics.lockRequestsTotal.WithLabelValues("lock", OutcomeNoLocks).Inc()
		}
		return LockResultOutcome{Code: DeniedNoLocks}, nil

	case LockEAgain:
		_ = holder
		if !block {
			if z.metrics != nil {
				z.metrics.lockRequestsTotal.WithLabelValues("lock", OutcomeDenied).Inc()
			}
			return LockResultOutcome{Code: Denied}, nil
		}
		if z.grant == nil {
			if z.metrics != nil {
				z.metrics.lockRequestsTotal.WithLabelValues("lock", OutcomeDenied).Inc()
			}
			return LockResultOutcome{Code: Denied}, nil
		}

		if monitorCapable {
			z.Registry.Monitor(ctx, h, peerState)
		}

		sr := sleepRequestFromDesc(desc)
		h.mu.Lock()
		h.vholds.addSleepRequest(v, sr)
		h.mu.Unlock()

		// Pin an extra reference to the host and the vhold for the
		// background wait; the ones this call holds are released by the
		// defers above as soon as this function returns BLOCKED.
		z.Registry.Acquire(h)
		vWait := h.VholdFor(vp)

		if z.metrics != nil {
			z.metrics.lockRequestsTotal.WithLabelValues("lock", OutcomeBlocked).Inc()
		}

		go z.waitAndGrant(ctx, h, vWait, vp, desc, fhBytes, cookie, sr)

		return LockResultOutcome{Code: Blocked}, nil

	default:
		return LockResultOutcome{Code: Failed}, fmt.Errorf("nlmcore: unknown lock result %v", result)
	}
}

// waitAndGrant runs SET_LOCK_WAIT in the background after a BLOCKED reply,
// holding no core lock while blocked (spec 5), then issues the GRANTED
// back-call on success. Always releases the extra reference taken for the
// wait and removes the server-side sleep request.
func (z *Zone) waitAndGrant(ctx context.Context, h *Host, v *Vhold, vp VP, desc LockDesc, fhBytes []byte, cookie []byte, sr SleepRequest) {
	defer z.Registry.Release(h)
	defer func() {
		h.mu.Lock()
		h.vholds.removeSleepRequest(v, sr)
		h.mu.Unlock()
		h.ReleaseVhold(v)
	}()

	result, _, err := z.locks.SetLock(ctx, vp, h.Sysid(), desc, true)
	if err != nil || result != LockOK {
		logger.Debug("nlmcore: blocked lock wait ended without grant", "host", h.Identity().Name, "error", err)
		return
	}

	if z.grant == nil {
		return
	}
	if err := z.grant.Grant(ctx, h, desc, fhBytes, cookie); err != nil {
		logger.Warn("nlmcore: GRANTED back-call failed, peer will time out and retry", "host", h.Identity().Name, "error", err)
	}
}

// Cancel implements NLM_CANCEL: best-effort removal of a pending blocking
// request, plus a poke at the local lock manager in case the grant raced
// the cancel.
func (z *Zone) Cancel(ctx context.Context, id Identity, fhBytes []byte, desc LockDesc) (Code, error) {
	h, ok := z.Registry.Find(id)
	if !ok {
		return Denied, nil
	}
	if err := z.Grace.AdmitLockRequest(false); err != nil {
		return DeniedGracePeriod, nil
	}

	vp, ok := z.fh.Resolve(fhBytes)
	if !ok {
		return StaleFH, nil
	}

	removedSleep := false
	h.mu.Lock()
	v, present := h.vholds.byVP[vp]
	if present {
		removedSleep = h.vholds.removeSleepRequest(v, sleepRequestFromDesc(desc))
	}
	h.mu.Unlock()

	unlocked := false
	if z.locks != nil {
		if removed, err := z.locks.Unlock(vp, h.Sysid(), desc); err == nil && removed {
			unlocked = true
		}
	}

	if removedSleep || unlocked {
		return Granted, nil
	}
	return Denied, nil
}

// Unlock implements NLM_UNLOCK. It reports DeniedGracePeriod while the grace
// period is in effect for a known host; otherwise, since the protocol has no
// failure status for unlock, it reports success once the request is
// well-formed.
func (z *Zone) Unlock(ctx context.Context, id Identity, fhBytes []byte, desc LockDesc) (Code, error) {
	h, ok := z.Registry.Find(id)
	if !ok {
		return Granted, nil
	}
	if err := z.Grace.AdmitLockRequest(false); err != nil {
		return DeniedGracePeriod, nil
	}

	vp, ok := z.fh.Resolve(fhBytes)
	if !ok {
		return Granted, nil
	}
	if z.locks != nil {
		_, _ = z.locks.Unlock(vp, h.Sysid(), desc)
	}
	if z.metrics != nil {
		z.metrics.lockRequestsTotal.WithLabelValues("unlock", OutcomeGranted).Inc()
	}
	return Granted, nil
}

// Granted implements the client-side NLM_GRANTED callback handler: a remote
// server telling us a lock we were blocked on is now ours. The sysid is
// looked up from the lock-owner bytes we set when registering the sleeping
// lock (encoded upstream of this call, opaque to nlmcore).
func (z *Zone) Granted(ctx context.Context, sysid int, vnode VP, desc LockDesc) Code {
	h, ok := z.Registry.FindBySysid(sysid)
	if !ok {
		return Denied
	}
	if z.Slocks.Grant(h, vnode, desc) {
		return Granted
	}
	return Denied
}

// Share implements NLM_SHARE.
func (z *Zone) Share(ctx context.Context, id Identity, fhBytes []byte, shr ShareReservation, reclaim bool, peerState int32) (Code, error) {
	h, err := z.resolveHost(ctx, id, true, peerState, true)
	if err != nil {
		return Failed, err
	}
	h.setState(peerState)

	if err := z.Grace.AdmitLockRequest(reclaim); err != nil {
		return DeniedGracePeriod, nil
	}

	vp, ok := z.fh.Resolve(fhBytes)
	if !ok {
		return StaleFH, nil
	}

	z.Registry.Acquire(h)
	defer z.Registry.Release(h)
	v := h.VholdFor(vp)
	defer h.ReleaseVhold(v)

	if z.shares == nil {
		return Granted, nil
	}
	if err := z.shares.ShareSet(vp, h.Sysid(), shr); err != nil {
		return Denied, nil
	}
	z.Registry.Monitor(ctx, h, peerState)
	return Granted, nil
}

// Unshare implements NLM_UNSHARE.
func (z *Zone) Unshare(ctx context.Context, id Identity, fhBytes []byte, shr ShareReservation) (Code, error) {
	h, ok := z.Registry.Find(id)
	if !ok {
		return Granted, nil
	}
	if err := z.Grace.AdmitLockRequest(false); err != nil {
		return DeniedGracePeriod, nil
	}

	vp, ok := z.fh.Resolve(fhBytes)
	if !ok {
		return Granted, nil
	}
	if z.shares != nil {
		_ = z.shares.ShareUnset(vp, h.Sysid(), shr)
	}
	return Granted, nil
}

// FreeAll implements NLM_FREE_ALL: a peer telling us to drop everything it
// holds, identified by caller name alone. Server-side only - it never
// touches this instance's own outstanding client-side requests against that
// peer (those are handled by NOTIFY1/CancelAllFor instead).
func (z *Zone) FreeAll(ctx context.Context, name string, state int32) error {
	h, ok := z.Registry.FindByName(name)
	if !ok {
		return nil
	}
	z.Registry.NotifyServer(h, state)
	return nil
}

// Notify1 implements the local SM's NOTIFY1 callback: priv carries the
// sysid we handed to SM_MON, state is the peer's new incarnation number.
func (z *Zone) Notify1(ctx context.Context, priv []byte, state int32) error {
	if len(priv) < 4 {
		return fmt.Errorf("nlmcore: NOTIFY1 priv too short: %d bytes", len(priv))
	}
	sysid := int(uint32(priv[0])<<24 | uint32(priv[1])<<16 | uint32(priv[2])<<8 | uint32(priv[3]))

	h, ok := z.Registry.FindBySysid(sysid)
	if !ok {
		logger.Debug("nlmcore: NOTIFY1 for unknown sysid", "sysid", sysid)
		return nil
	}

	z.Registry.NotifyServer(h, state)
	z.Slocks.CancelAllFor(h)
	z.Registry.NotifyClient(ctx, h, state, RunReclaim(z.metrics, z.defaultReclaim))
	return nil
}

// defaultReclaim is a no-op reclaim body used when no real ReclaimClient
// callback has been wired in (e.g. a server-only deployment with no
// outstanding client-side locks to reclaim).
func (z *Zone) defaultReclaim(ctx context.Context, host *Host) error {
	return nil
}
