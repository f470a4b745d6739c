// Package bitmap provides the default TwinBitmap implementation: a
// fixed-size arena of page-sized twin slots shared across every process
// cooperating on a region.
//
// xpersist stores a twin's slot index inside _pageUsers, which is itself
// MAP_SHARED — so whichever process later diffs against that twin must
// be able to resolve the same index to the same bytes. That rules out
// an ordinary github.com/RoaringBitmap/roaring/v2 Bitmap as the
// source of truth: a roaring.Bitmap is a plain Go heap value (container
// slices, pointers), and Go pointers embedded in cross-process MAP_SHARED
// memory are meaningless outside the process that wrote them. The
// authoritative claimed/free state for each slot therefore lives as a
// flat atomic array inside the shared arena itself, updated with CAS.
//
// roaring.Bitmap still earns its keep here as a process-local
// *allocation hint*: each process keeps its own roaring.Bitmap of slots
// it has recently observed free, so Alloc can usually skip straight to
// a likely-free candidate instead of scanning the shared array byte by
// byte. A hint that turns out stale (another process already claimed
// it) just falls through to the scan.
package bitmap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sys/unix"

	"github.com/Mic92/dthreads/internal/shm"
)

const (
	slotFree    = uint32(0)
	slotClaimed = uint32(1)
)

// Arena is the default TwinBitmap: a shared arena of slotCount
// PageSize-sized slots, plus one version counter and one claimed flag
// per slot.
type Arena struct {
	file      shm.File
	base      uintptr
	pageSize  int
	slotCount int

	versions []atomic.Uint64
	claimed  []atomic.Uint32
	dataOff  int

	mu   sync.Mutex
	hint *roaring.Bitmap
	next uint32 // round-robin cursor for the fallback scan
}

// NewArena creates a fresh shared arena sized for slotCount twin slots
// of pageSize bytes each, backed by a memfd so its fd can be inherited
// by spawned cooperating processes (see the root package's spawn.go).
func NewArena(slotCount, pageSize int) (*Arena, error) {
	versionsBytes := slotCount * 8
	claimedBytes := slotCount * 4
	dataOff := versionsBytes + claimedBytes
	total := dataOff + slotCount*pageSize

	f, err := shm.Create("dthreads-twins", total)
	if err != nil {
		return nil, err
	}
	base, err := shm.MapShared(f, total, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		f.Close()
		return nil, err
	}

	a := &Arena{
		file:      f,
		base:      base,
		pageSize:  pageSize,
		slotCount: slotCount,
		dataOff:   dataOff,
		hint:      roaring.New(),
	}
	a.versions = unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(base)), slotCount)
	a.claimed = unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(base+uintptr(versionsBytes))), slotCount)

	// Slot 0 is reserved ("no twin"); never handed out by Alloc.
	a.claimed[0].Store(slotClaimed)
	return a, nil
}

// OpenArena maps an already-created arena inherited from a coordinator
// process (see root package JoinEnv), identified by its inherited fd.
func OpenArena(f shm.File, slotCount, pageSize int) (*Arena, error) {
	versionsBytes := slotCount * 8
	claimedBytes := slotCount * 4
	dataOff := versionsBytes + claimedBytes
	total := dataOff + slotCount*pageSize

	base, err := shm.MapShared(f, total, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		file:      f,
		base:      base,
		pageSize:  pageSize,
		slotCount: slotCount,
		dataOff:   dataOff,
		hint:      roaring.New(),
	}
	a.versions = unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(base)), slotCount)
	a.claimed = unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(base+uintptr(versionsBytes))), slotCount)
	return a, nil
}

// Alloc returns a fresh slot id, never 0.
func (a *Arena) Alloc() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.popHint(); ok {
		return id, nil
	}

	// Fallback: round-robin scan the shared claimed array, starting just
	// after the last slot this process claimed by scanning. The hint
	// bitmap is filled only by Free, not by this scan.
	start := a.next
	for i := 0; i < a.slotCount; i++ {
		id := (start + uint32(i)) % uint32(a.slotCount)
		if id == 0 {
			continue
		}
		if a.claimed[id].CompareAndSwap(slotFree, slotClaimed) {
			a.next = id + 1
			return id, nil
		}
	}
	return 0, fmt.Errorf("dthreads/bitmap: no free twin slot (capacity %d)", a.slotCount)
}

// popHint pops local roaring-bitmap candidates until one is still
// actually free in the shared array (CAS wins) or the hint is empty.
func (a *Arena) popHint() (uint32, bool) {
	for !a.hint.IsEmpty() {
		id := a.hint.Minimum()
		a.hint.Remove(id)
		if id == 0 {
			continue
		}
		if a.claimed[id].CompareAndSwap(slotFree, slotClaimed) {
			return id, true
		}
	}
	return 0, false
}

// Free returns id to the pool and records it as a same-process
// allocation hint for next time. Freeing 0 is a no-op.
func (a *Arena) Free(id uint32) {
	if id == 0 {
		return
	}
	a.claimed[id].Store(slotFree)
	a.mu.Lock()
	a.hint.Add(id)
	a.mu.Unlock()
}

// Address returns a pointer to id's PageSize-sized backing slot.
func (a *Arena) Address(id uint32) unsafe.Pointer {
	off := a.dataOff + int(id)*a.pageSize
	return unsafe.Pointer(a.base + uintptr(off))
}

// SetVersion records the persistent version a twin was snapshotted at.
func (a *Arena) SetVersion(id uint32, version uint64) {
	a.versions[id].Store(version)
}

// Version returns the version last recorded by SetVersion.
func (a *Arena) Version(id uint32) uint64 {
	return a.versions[id].Load()
}

// Fd exposes the backing memfd for Spawn to inherit across exec.
func (a *Arena) Fd() uintptr { return a.file.Fd() }

// SlotCount is the arena's total capacity, including the reserved slot 0.
func (a *Arena) SlotCount() int { return a.slotCount }

// Close unmaps the arena and closes its backing fd.
func (a *Arena) Close() error {
	if err := shm.Unmap(a.base, a.dataOff+a.slotCount*a.pageSize); err != nil {
		return err
	}
	return a.file.Close()
}
