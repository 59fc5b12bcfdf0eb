package nlmcore

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/localfs"
)

func TestGCSweepDestroysPastDeadlineEmptyHost(t *testing.T) {
	lm := localfs.NewLockManager()
	sm := localfs.NewShareManager(lm)
	r := NewRegistry(-time.Nanosecond, nil, lm, sm, NewMetrics(prometheus.NewRegistry()))

	h, err := r.FindOrCreate(testIdentity("peer-a"), true)
	require.NoError(t, err)
	r.Acquire(h)
	r.Release(h) // refs 0, deadline already in the past given a negative idleTimeout

	gc := NewGC(r, lm, sm, time.Hour, nil)
	destroyed := gc.Sweep(context.Background())

	assert.Equal(t, 1, destroyed)
	_, ok := r.FindBySysid(h.Sysid())
	assert.False(t, ok)
}

func TestGCSweepSparesHostWithActiveRefs(t *testing.T) {
	lm := localfs.NewLockManager()
	sm := localfs.NewShareManager(lm)
	r := NewRegistry(-time.Nanosecond, nil, lm, sm, nil)

	h, err := r.FindOrCreate(testIdentity("peer-b"), true)
	require.NoError(t, err)
	r.Acquire(h) // refs 1, never hits the idle list

	gc := NewGC(r, lm, sm, time.Hour, nil)
	destroyed := gc.Sweep(context.Background())

	assert.Equal(t, 0, destroyed)
	_, ok := r.FindBySysid(h.Sysid())
	assert.True(t, ok)
}

func TestGCSweepSparesHostWithPendingSleepRequest(t *testing.T) {
	lm := localfs.NewLockManager()
	sm := localfs.NewShareManager(lm)
	r := NewRegistry(-time.Nanosecond, nil, lm, sm, nil)

	h, err := r.FindOrCreate(testIdentity("peer-c"), true)
	require.NoError(t, err)
	v := h.VholdFor("/export/a")
	h.vholds.addSleepRequest(v, SleepRequest{Start: 0, Len: 1, Pid: 1, Type: ReadLock})
	h.ReleaseVhold(v)
	r.Acquire(h)
	r.Release(h)

	gc := NewGC(r, lm, sm, time.Hour, nil)
	destroyed := gc.Sweep(context.Background())

	assert.Equal(t, 0, destroyed)
}

func TestGCSweepUnmonsBeforeDestroying(t *testing.T) {
	lm := localfs.NewLockManager()
	shares := localfs.NewShareManager(lm)
	sm := &fakeSM{}
	r := NewRegistry(-time.Nanosecond, sm, lm, shares, NewMetrics(prometheus.NewRegistry()))

	h, err := r.FindOrCreate(testIdentity("peer-d"), true)
	require.NoError(t, err)
	r.Monitor(context.Background(), h, 1)
	r.Acquire(h)
	r.Release(h)

	gc := NewGC(r, lm, shares, time.Hour, nil)
	destroyed := gc.Sweep(context.Background())

	require.Equal(t, 1, destroyed)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	assert.Equal(t, []string{"peer-d"}, sm.unmonCall)
}
