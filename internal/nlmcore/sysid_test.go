package nlmcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSysidAllocatorReservesBitZero(t *testing.T) {
	a := NewSysidAllocator()
	assert.True(t, a.testBit(0))
	assert.Equal(t, 0, a.InUse())
}

func TestSysidAllocatorAllocIsSequentialAndUnique(t *testing.T) {
	a := NewSysidAllocator()

	first := a.Alloc()
	second := a.Alloc()

	assert.NotEqual(t, NoSysid, first)
	assert.NotEqual(t, NoSysid, second)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first+1, second)
	assert.Equal(t, 2, a.InUse())
}

func TestSysidAllocatorFreeAllowsReuse(t *testing.T) {
	a := NewSysidAllocator()

	id := a.Alloc()
	a.Free(id)
	assert.Equal(t, 0, a.InUse())

	next := a.Alloc()
	assert.NotEqual(t, NoSysid, next)
}

func TestSysidAllocatorFreeOfUnallocatedPanics(t *testing.T) {
	a := NewSysidAllocator()
	assert.Panics(t, func() { a.Free(SysidMin) })
}

func TestSysidAllocatorFreeOutOfRangePanics(t *testing.T) {
	a := NewSysidAllocator()
	assert.Panics(t, func() { a.Free(0) })
	assert.Panics(t, func() { a.Free(SysidMax + 1) })
}

func TestSysidAllocatorExhaustion(t *testing.T) {
	a := NewSysidAllocator()
	for i := SysidMin; i <= SysidMax; i++ {
		require.NotEqual(t, NoSysid, a.Alloc())
	}
	assert.Equal(t, NoSysid, a.Alloc())
}
