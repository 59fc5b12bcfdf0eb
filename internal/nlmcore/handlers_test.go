package nlmcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/localfs"
)

type fakeGrant struct {
	mu      sync.Mutex
	calls   int
	lastErr error
	granted chan struct{}
}

func newFakeGrant() *fakeGrant { return &fakeGrant{granted: make(chan struct{}, 8)} }

func (g *fakeGrant) Grant(ctx context.Context, host *Host, desc LockDesc, fh []byte, cookie []byte) error {
	g.mu.Lock()
	g.calls++
	err := g.lastErr
	g.mu.Unlock()
	g.granted <- struct{}{}
	return err
}

type fakeSM struct {
	mu        sync.Mutex
	monCalls  []string
	monErr    error
	unmonCall []string
}

func (f *fakeSM) SimuCrash(ctx context.Context) error { return nil }
func (f *fakeSM) Stat(ctx context.Context) (int32, error) { return 0, nil }
func (f *fakeSM) Mon(ctx context.Context, hostname string, privSysid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monCalls = append(f.monCalls, hostname)
	return f.monErr
}
func (f *fakeSM) Unmon(ctx context.Context, hostname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmonCall = append(f.unmonCall, hostname)
	return nil
}
func (f *fakeSM) UnmonAll(ctx context.Context) error { return nil }

func newTestZoneFull(t *testing.T, sm StatusMonitor, grant GrantCallback) *Zone {
	t.Helper()
	lm := localfs.NewLockManager()
	shares := localfs.NewShareManager(lm)
	resolver := localfs.NewResolver()
	z := NewZone(ZoneConfig{GracePeriod: 0}, sm, lm, shares, resolver, grant, NewMetrics(prometheus.NewRegistry()))
	z.Grace.End() // tests exercise post-grace-period behavior unless stated otherwise
	return z
}

func TestZoneTestReportsNoConflictOnFreshFile(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	id := testIdentity("peer-a")
	desc := LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}

	code, holder, err := z.Test(context.Background(), id, []byte("fh-1"), desc)
	require.NoError(t, err)
	assert.Equal(t, Granted, code)
	assert.Nil(t, holder)
}

func TestZoneTestReportsStaleFHForEmptyHandle(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	code, _, err := z.Test(context.Background(), testIdentity("peer-a"), nil, LockDesc{})
	require.NoError(t, err)
	assert.Equal(t, StaleFH, code)
}

func TestZoneTestReportsConflict(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	id := testIdentity("peer-b")
	fh := []byte("fh-conflict")
	desc := LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}

	res, err := z.Lock(context.Background(), id, fh, desc, false, false, 0, false, nil)
	require.NoError(t, err)
	require.Equal(t, Granted, res.Code)

	code, holder, err := z.Test(context.Background(), testIdentity("peer-c"), fh, desc)
	require.NoError(t, err)
	assert.Equal(t, Denied, code)
	require.NotNil(t, holder)
	assert.True(t, holder.Excl)
}

func TestZoneLockGrantsUncontendedRange(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	id := testIdentity("peer-d")
	desc := LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}

	res, err := z.Lock(context.Background(), id, []byte("fh"), desc, false, false, 0, false, nil)
	require.NoError(t, err)
	assert.Equal(t, Granted, res.Code)
}

func TestZoneLockDeniesNonBlockingConflict(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	fh := []byte("fh")
	descA := LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}
	descB := LockDesc{Start: 5, Len: 10, Pid: 2, Excl: true}

	_, err := z.Lock(context.Background(), testIdentity("peer-e"), fh, descA, false, false, 0, false, nil)
	require.NoError(t, err)

	res, err := z.Lock(context.Background(), testIdentity("peer-f"), fh, descB, false, false, 0, false, nil)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Code)
}

func TestZoneLockBlocksThenGrantsViaCallback(t *testing.T) {
	grant := newFakeGrant()
	z := newTestZoneFull(t, nil, grant)
	fh := []byte("fh")
	descA := LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}
	descB := LockDesc{Start: 0, Len: 10, Pid: 2, Excl: true}

	_, err := z.Lock(context.Background(), testIdentity("peer-g"), fh, descA, false, false, 0, false, nil)
	require.NoError(t, err)

	res, err := z.Lock(context.Background(), testIdentity("peer-h"), fh, descB, true, false, 0, false, []byte("cookie"))
	require.NoError(t, err)
	require.Equal(t, Blocked, res.Code)

	_, err = z.Unlock(context.Background(), testIdentity("peer-g"), fh, descA)
	require.NoError(t, err)

	select {
	case <-grant.granted:
	case <-time.After(time.Second):
		t.Fatal("GRANTED callback never fired after conflicting lock released")
	}
}

func TestZoneLockDeniedNoBlockWhenNoGrantCallback(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	fh := []byte("fh")
	descA := LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}
	descB := LockDesc{Start: 0, Len: 10, Pid: 2, Excl: true}

	_, err := z.Lock(context.Background(), testIdentity("peer-i"), fh, descA, false, false, 0, false, nil)
	require.NoError(t, err)

	res, err := z.Lock(context.Background(), testIdentity("peer-j"), fh, descB, true, false, 0, false, nil)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Code)
}

func TestZoneLockMonitorsCapablePeer(t *testing.T) {
	sm := &fakeSM{}
	z := newTestZoneFull(t, sm, nil)

	_, err := z.Lock(context.Background(), testIdentity("peer-k"), []byte("fh"), LockDesc{Start: 0, Len: 1, Pid: 1, Excl: true}, false, false, 0, true, nil)
	require.NoError(t, err)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	assert.Equal(t, []string{"peer-k"}, sm.monCalls)
}

func TestZoneLockDeniedDuringGracePeriodWithoutReclaim(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	z.Grace.Begin(time.Hour)

	res, err := z.Lock(context.Background(), testIdentity("peer-l"), []byte("fh"), LockDesc{Start: 0, Len: 1, Pid: 1}, false, false, 0, false, nil)
	require.NoError(t, err)
	assert.Equal(t, DeniedGracePeriod, res.Code)
}

func TestZoneLockAdmittedDuringGracePeriodWithReclaim(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	z.Grace.Begin(time.Hour)

	res, err := z.Lock(context.Background(), testIdentity("peer-m"), []byte("fh"), LockDesc{Start: 0, Len: 1, Pid: 1}, false, true, 0, false, nil)
	require.NoError(t, err)
	assert.Equal(t, Granted, res.Code)
}

func TestZoneCancelRemovesSleepRequest(t *testing.T) {
	z := newTestZoneFull(t, nil, newFakeGrant())
	fh := []byte("fh")
	descA := LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}
	descB := LockDesc{Start: 0, Len: 10, Pid: 2, Excl: true}

	_, err := z.Lock(context.Background(), testIdentity("peer-n"), fh, descA, false, false, 0, false, nil)
	require.NoError(t, err)

	res, err := z.Lock(context.Background(), testIdentity("peer-o"), fh, descB, true, false, 0, false, nil)
	require.NoError(t, err)
	require.Equal(t, Blocked, res.Code)

	code, err := z.Cancel(context.Background(), testIdentity("peer-o"), fh, descB)
	require.NoError(t, err)
	assert.Equal(t, Granted, code)
}

func TestZoneCancelDeniedForUnknownHost(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	code, err := z.Cancel(context.Background(), testIdentity("peer-p"), []byte("fh"), LockDesc{})
	require.NoError(t, err)
	assert.Equal(t, Denied, code)
}

func TestZoneUnlockAlwaysReportsGranted(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	code, err := z.Unlock(context.Background(), testIdentity("peer-q"), []byte("fh"), LockDesc{})
	require.NoError(t, err)
	assert.Equal(t, Granted, code)
}

func TestZoneShareAndUnshareConflict(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	fh := []byte("fh")
	exclusiveShare := ShareReservation{Mode: 3, Access: 3, OH: "owner-a"}
	conflicting := ShareReservation{Mode: 3, Access: 3, OH: "owner-b"}

	code, err := z.Share(context.Background(), testIdentity("peer-r"), fh, exclusiveShare, false, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, code)

	code, err = z.Share(context.Background(), testIdentity("peer-s"), fh, conflicting, false, 0)
	require.NoError(t, err)
	assert.Equal(t, Denied, code)

	code, err = z.Unshare(context.Background(), testIdentity("peer-r"), fh, exclusiveShare)
	require.NoError(t, err)
	assert.Equal(t, Granted, code)

	code, err = z.Share(context.Background(), testIdentity("peer-s"), fh, conflicting, false, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, code)
}

func TestZoneUnshareDeniedDuringGracePeriod(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	fh := []byte("fh")
	shr := ShareReservation{Mode: 3, Access: 3, OH: "owner-t"}

	code, err := z.Share(context.Background(), testIdentity("peer-t"), fh, shr, false, 0)
	require.NoError(t, err)
	require.Equal(t, Granted, code)

	z.Grace.Begin(time.Hour)

	code, err = z.Unshare(context.Background(), testIdentity("peer-t"), fh, shr)
	require.NoError(t, err)
	assert.Equal(t, DeniedGracePeriod, code)
}

func TestZoneGrantedResolvesMatchingSleepingLock(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	id := testIdentity("peer-t")
	h, err := z.Registry.FindOrCreate(id, true)
	require.NoError(t, err)

	desc := LockDesc{Start: 0, Len: 5, Pid: 1, Excl: true}
	sl := z.Slocks.Register(h, "/export/a", desc, nil)

	code := z.Granted(context.Background(), h.Sysid(), "/export/a", desc)
	assert.Equal(t, Granted, code)
	assert.Equal(t, SlockGranted, sl.State())
}

func TestZoneGrantedDeniedForUnknownSysid(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	code := z.Granted(context.Background(), 99999, "/export/a", LockDesc{})
	assert.Equal(t, Denied, code)
}

func TestZoneFreeAllDropsLocksForNamedPeer(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	fh := []byte("fh")
	desc := LockDesc{Start: 0, Len: 1, Pid: 1, Excl: true}

	_, err := z.Lock(context.Background(), testIdentity("peer-u"), fh, desc, false, false, 0, false, nil)
	require.NoError(t, err)

	require.NoError(t, z.FreeAll(context.Background(), "peer-u", 2))

	code, _, err := z.Test(context.Background(), testIdentity("peer-v"), fh, desc)
	require.NoError(t, err)
	assert.Equal(t, Granted, code)
}

func TestZoneFreeAllNoopForUnknownPeer(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	assert.NoError(t, z.FreeAll(context.Background(), "nobody", 1))
}

func TestZoneNotify1TriggersReclaimAndClearsSleepingLocks(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	id := testIdentity("peer-w")
	h, err := z.Registry.FindOrCreate(id, true)
	require.NoError(t, err)

	sl := z.Slocks.Register(h, "/export/a", LockDesc{Start: 0, Len: 1, Pid: 1}, nil)

	priv := []byte{0, 0, 0, byte(h.Sysid())}
	require.NoError(t, z.Notify1(context.Background(), priv, 5))

	assert.Equal(t, SlockCancelled, sl.State())
	require.Eventually(t, func() bool { return !h.IsReclaiming() }, time.Second, 10*time.Millisecond)
}

func TestZoneNotify1RejectsShortPriv(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	err := z.Notify1(context.Background(), []byte{1, 2}, 1)
	assert.Error(t, err)
}

func TestZoneNotify1IgnoresUnknownSysid(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)
	priv := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	assert.NoError(t, z.Notify1(context.Background(), priv, 1))
}

func TestFakeGrantErrorDoesNotPanicWaitAndGrant(t *testing.T) {
	grant := newFakeGrant()
	grant.lastErr = errors.New("peer unreachable")
	z := newTestZoneFull(t, nil, grant)

	fh := []byte("fh")
	descA := LockDesc{Start: 0, Len: 1, Pid: 1, Excl: true}
	descB := LockDesc{Start: 0, Len: 1, Pid: 2, Excl: true}

	_, err := z.Lock(context.Background(), testIdentity("peer-x"), fh, descA, false, false, 0, false, nil)
	require.NoError(t, err)
	res, err := z.Lock(context.Background(), testIdentity("peer-y"), fh, descB, true, false, 0, false, []byte("cookie"))
	require.NoError(t, err)
	require.Equal(t, Blocked, res.Code)

	_, err = z.Unlock(context.Background(), testIdentity("peer-x"), fh, descA)
	require.NoError(t, err)

	select {
	case <-grant.granted:
	case <-time.After(time.Second):
		t.Fatal("grant callback never invoked")
	}
}
