package localfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/nlmcore"
)

func TestSetLockUncontendedSucceeds(t *testing.T) {
	lm := NewLockManager()
	result, holder, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)
	assert.Equal(t, nlmcore.LockOK, result)
	assert.Nil(t, holder)
}

func TestSetLockNonBlockingConflictReturnsHolder(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)

	result, holder, err := lm.SetLock(context.Background(), "file-a", 2, nlmcore.LockDesc{Start: 5, Len: 10, Pid: 2, Excl: true}, false)
	require.NoError(t, err)
	assert.Equal(t, nlmcore.LockEAgain, result)
	require.NotNil(t, holder)
	assert.Equal(t, 1, holder.Sysid)
	assert.Equal(t, int32(1), holder.Pid)
}

func TestSetLockNonOverlappingRangesBothSucceed(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)

	result, _, err := lm.SetLock(context.Background(), "file-a", 2, nlmcore.LockDesc{Start: 10, Len: 10, Pid: 2, Excl: true}, false)
	require.NoError(t, err)
	assert.Equal(t, nlmcore.LockOK, result)
}

func TestSetLockTwoSharedReadersDoNotConflict(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: false}, false)
	require.NoError(t, err)

	result, _, err := lm.SetLock(context.Background(), "file-a", 2, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 2, Excl: false}, false)
	require.NoError(t, err)
	assert.Equal(t, nlmcore.LockOK, result)
}

func TestSetLockSameSysidSamePidIsNotASelfConflict(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)

	result, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)
	assert.Equal(t, nlmcore.LockOK, result)
}

func TestSetLockZeroLengthMeansToEndOfFile(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 100, Len: 0, Pid: 1, Excl: true}, false)
	require.NoError(t, err)

	result, holder, err := lm.SetLock(context.Background(), "file-a", 2, nlmcore.LockDesc{Start: 1000000, Len: 10, Pid: 2, Excl: true}, false)
	require.NoError(t, err)
	assert.Equal(t, nlmcore.LockEAgain, result)
	assert.NotNil(t, holder)
}

func TestSetLockBlockingWaitsThenSucceedsAfterUnlock(t *testing.T) {
	lm := NewLockManager()
	desc := nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, desc, false)
	require.NoError(t, err)

	done := make(chan nlmcore.LockResult, 1)
	go func() {
		result, _, err := lm.SetLock(context.Background(), "file-a", 2, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 2, Excl: true}, true)
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(20 * time.Millisecond)
	removed, err := lm.Unlock("file-a", 1, desc)
	require.NoError(t, err)
	assert.True(t, removed)

	select {
	case result := <-done:
		assert.Equal(t, nlmcore.LockOK, result)
	case <-time.After(time.Second):
		t.Fatal("blocking SetLock never woke up after Unlock")
	}
}

func TestSetLockBlockingReturnsOnContextCancellation(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := lm.SetLock(ctx, "file-a", 2, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 2, Excl: true}, true)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocking SetLock never returned after context cancellation")
	}
}

func TestGetLockReportsConflictWithoutInstalling(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)

	holder, ok := lm.GetLock("file-a", nlmcore.LockDesc{Start: 5, Len: 5, Pid: 2, Excl: true})
	require.True(t, ok)
	assert.Equal(t, 1, holder.Sysid)

	_, ok = lm.GetLock("file-a", nlmcore.LockDesc{Start: 50, Len: 5, Pid: 2, Excl: true})
	assert.False(t, ok)
}

func TestUnlockNoMatchReturnsFalseNoError(t *testing.T) {
	lm := NewLockManager()
	removed, err := lm.Unlock("file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true})
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestUnlockSysidDropsAllLocksForThatSysid(t *testing.T) {
	lm := NewLockManager()
	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)
	_, _, err = lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 20, Len: 10, Pid: 2, Excl: true}, false)
	require.NoError(t, err)

	assert.True(t, lm.SysidHasLocksOn("file-a", 1))
	lm.UnlockSysid("file-a", 1)
	assert.False(t, lm.SysidHasLocksOn("file-a", 1))
}

func TestSysidHasAnyLocksAcrossVnodes(t *testing.T) {
	lm := NewLockManager()
	assert.False(t, lm.SysidHasAnyLocks(1))

	_, _, err := lm.SetLock(context.Background(), "file-a", 1, nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}, false)
	require.NoError(t, err)
	assert.True(t, lm.SysidHasAnyLocks(1))

	lm.UnlockSysid("file-a", 1)
	assert.False(t, lm.SysidHasAnyLocks(1))
}

func TestShareSetConflictingAccessDenyIsRejected(t *testing.T) {
	lm := NewLockManager()
	sm := NewShareManager(lm)

	require.NoError(t, sm.ShareSet("file-a", 1, nlmcore.ShareReservation{Access: 1, Mode: 2, OH: "oh-1"}))

	err := sm.ShareSet("file-a", 2, nlmcore.ShareReservation{Access: 2, Mode: 1, OH: "oh-2"})
	assert.Error(t, err)
}

func TestShareSetNonConflictingReservationsCoexist(t *testing.T) {
	lm := NewLockManager()
	sm := NewShareManager(lm)

	require.NoError(t, sm.ShareSet("file-a", 1, nlmcore.ShareReservation{Access: 1, Mode: 0, OH: "oh-1"}))
	assert.NoError(t, sm.ShareSet("file-a", 2, nlmcore.ShareReservation{Access: 2, Mode: 0, OH: "oh-2"}))
}

func TestShareSetSameSysidNeverConflictsWithItself(t *testing.T) {
	lm := NewLockManager()
	sm := NewShareManager(lm)

	require.NoError(t, sm.ShareSet("file-a", 1, nlmcore.ShareReservation{Access: 1, Mode: 2, OH: "oh-1"}))
	assert.NoError(t, sm.ShareSet("file-a", 1, nlmcore.ShareReservation{Access: 1, Mode: 2, OH: "oh-1b"}))
}

func TestShareUnsetRemovesMatchingOH(t *testing.T) {
	lm := NewLockManager()
	sm := NewShareManager(lm)
	shr := nlmcore.ShareReservation{Access: 1, Mode: 2, OH: "oh-1"}

	require.NoError(t, sm.ShareSet("file-a", 1, shr))
	assert.True(t, sm.SharesForSysid("file-a", 1))

	require.NoError(t, sm.ShareUnset("file-a", 1, shr))
	assert.False(t, sm.SharesForSysid("file-a", 1))
}

func TestShareUnsetOfUnknownReservationIsANoop(t *testing.T) {
	lm := NewLockManager()
	sm := NewShareManager(lm)
	err := sm.ShareUnset("file-a", 1, nlmcore.ShareReservation{Access: 1, Mode: 2, OH: "never-set"})
	assert.NoError(t, err)
}
