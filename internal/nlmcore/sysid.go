package nlmcore

import "sync"

// NoSysid is returned by SysidAllocator.Alloc when the pool is exhausted.
const NoSysid = -1

// SysidMin and SysidMax bound the allocatable range. Bit 0 is permanently
// reserved for local (non-NLM) locks and is never handed out.
const (
	SysidMin = 1
	SysidMax = 1 << 16
)

// SysidAllocator is a dense bitmap over [0, SysidMax] with a rotating
// allocation cursor, giving every remote peer a unique, small, reusable
// integer the local lock manager uses to attribute locks to that peer.
//
// The registry calls it under its writer lock; every method also takes the
// allocator's own mutex, so it can be exercised standalone in tests.
type SysidAllocator struct {
	mu     sync.Mutex
	bits   []uint64
	cursor int
}

// NewSysidAllocator returns an allocator with bit 0 permanently set.
func NewSysidAllocator() *SysidAllocator {
	a := &SysidAllocator{
		bits:   make([]uint64, (SysidMax/64)+1),
		cursor: SysidMin,
	}
	a.setBit(0)
	return a
}

func (a *SysidAllocator) setBit(id int) {
	a.bits[id/64] |= 1 << uint(id%64)
}

func (a *SysidAllocator) clearBit(id int) {
	a.bits[id/64] &^= 1 << uint(id%64)
}

func (a *SysidAllocator) testBit(id int) bool {
	return a.bits[id/64]&(1<<uint(id%64)) != 0
}

// Alloc scans from the rotating cursor for the first clear bit in
// [SysidMin, SysidMax], sets it, advances the cursor past it, and returns
// it. Returns NoSysid if the pool is full.
func (a *SysidAllocator) Alloc() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.cursor
	for i := 0; i < SysidMax-SysidMin+1; i++ {
		id := start + i
		if id > SysidMax {
			id = SysidMin + (id - SysidMax - 1)
		}
		if !a.testBit(id) {
			a.setBit(id)
			a.cursor = id + 1
			if a.cursor > SysidMax {
				a.cursor = SysidMin
			}
			return id
		}
	}
	return NoSysid
}

// Free clears id's bit. Freeing an id that was never allocated (or sysid 0)
// is a broken invariant: the caller is trying to free a sysid no host
// claims, which can only happen if the registry and allocator disagreed.
func (a *SysidAllocator) Free(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	assertInvariant(id >= SysidMin && id <= SysidMax, "free of out-of-range sysid %d", id)
	assertInvariant(a.testBit(id), "free of unallocated sysid %d", id)
	a.clearBit(id)
}

// InUse reports how many sysids (excluding the permanently reserved 0) are
// currently allocated, for the sysidsInUse gauge.
func (a *SysidAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for id := SysidMin; id <= SysidMax; id++ {
		if a.testBit(id) {
			n++
		}
	}
	return n
}
