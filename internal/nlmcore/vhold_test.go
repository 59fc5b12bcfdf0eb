package nlmcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVholdTableGetCreatesAndReusesByVP(t *testing.T) {
	tbl := newVholdTable()

	v1 := tbl.get("/export/a")
	v2 := tbl.get("/export/a")
	v3 := tbl.get("/export/b")

	assert.Same(t, v1, v2)
	assert.NotSame(t, v1, v3)
	assert.Equal(t, 2, tbl.len())
}

func TestVholdTableReleasePanicsOnOverRelease(t *testing.T) {
	tbl := newVholdTable()
	v := tbl.get("/export/a")
	tbl.release(v)
	assert.Panics(t, func() { tbl.release(v) })
}

func TestVholdTableBusyWithSleepRequest(t *testing.T) {
	tbl := newVholdTable()
	v := tbl.get("/export/a")
	tbl.release(v) // refcnt back to 0

	assert.False(t, tbl.busy(v, 7, nil, nil))

	sr := SleepRequest{Start: 0, Len: 10, Pid: 1, Type: WriteLock}
	tbl.addSleepRequest(v, sr)
	assert.True(t, tbl.busy(v, 7, nil, nil))

	removed := tbl.removeSleepRequest(v, sr)
	assert.True(t, removed)
	assert.False(t, tbl.busy(v, 7, nil, nil))
}

func TestVholdTableGCDestroysOnlyNonBusy(t *testing.T) {
	tbl := newVholdTable()

	busy := tbl.get("/export/busy")
	idle := tbl.get("/export/idle")
	tbl.release(idle)

	tbl.addSleepRequest(busy, SleepRequest{Start: 0, Len: 1, Pid: 1, Type: ReadLock})
	tbl.release(busy)

	destroyed := tbl.gc(1, nil, nil)
	require.Equal(t, 1, destroyed)
	assert.Equal(t, 1, tbl.len())
	assert.Same(t, busy, tbl.all()[0])
}

func TestVholdTableClearSleepRequestsReturnsAndEmpties(t *testing.T) {
	tbl := newVholdTable()
	v := tbl.get("/export/a")
	tbl.release(v)

	sr1 := SleepRequest{Start: 0, Len: 1, Pid: 1, Type: ReadLock}
	sr2 := SleepRequest{Start: 5, Len: 1, Pid: 2, Type: WriteLock}
	tbl.addSleepRequest(v, sr1)
	tbl.addSleepRequest(v, sr2)

	cleared := tbl.clearSleepRequests(v)
	assert.ElementsMatch(t, []SleepRequest{sr1, sr2}, cleared)
	assert.False(t, tbl.busy(v, 1, nil, nil))
}
