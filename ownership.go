package dthreads

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/Mic92/dthreads/internal/shm"
)

// OwnershipTable is the per-page coordination state shared across every
// process cooperating on a region: who currently owns each page
// exclusively (or SharedPage if it's read-mostly and shared), the
// page's version counter, a users count, and the twin slot id
// currently backing it (0 if none).
//
// All four arrays live in one memfd-backed MAP_SHARED mapping so
// updates made with atomic CAS in one process are visible to every
// other process without any explicit message passing — mirroring the
// original's _pageOwner / _pageInfo(shareinfo) split, collapsed into a
// single struct-of-arrays layout instead of the original's separate
// mmap'd int* and shareinfo* regions.
//
// Ported from xpersist's owner/version/shareinfo bookkeeping
// (src/include/xpersist.h: setOwnedPage, isSharedPage, setSharedPage).
type OwnershipTable struct {
	file *os.File

	owner    []atomic.Uint32
	version  []atomic.Uint64
	users    []atomic.Uint32
	twinSlot []atomic.Uint32

	base  uintptr
	bytes int
}

func newOwnershipTable(totalPages int) (*os.File, *OwnershipTable, error) {
	versionBytes := totalPages * 8
	ownerBytes := totalPages * 4
	usersBytes := totalPages * 4
	twinBytes := totalPages * 4
	total := versionBytes + ownerBytes + usersBytes + twinBytes

	f, err := createShared("dthreads-ownership", total)
	if err != nil {
		return nil, nil, err
	}
	base, err := mapSharedFile(f, total, unixProtRW())
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	t := ownershipFromBase(f, base, totalPages)
	return f, t, nil
}

// openOwnershipTable maps an ownership table inherited from a
// coordinator process via an already-open fd (see spawn.go's JoinEnv).
func openOwnershipTable(f *os.File, totalPages int) (*OwnershipTable, error) {
	versionBytes := totalPages * 8
	ownerBytes := totalPages * 4
	usersBytes := totalPages * 4
	twinBytes := totalPages * 4
	total := versionBytes + ownerBytes + usersBytes + twinBytes

	base, err := mapSharedFile(f, total, unixProtRW())
	if err != nil {
		return nil, err
	}
	return ownershipFromBase(f, base, totalPages), nil
}

func ownershipFromBase(f *os.File, base uintptr, totalPages int) *OwnershipTable {
	versionBytes := totalPages * 8
	ownerBytes := totalPages * 4
	usersBytes := totalPages * 4

	t := &OwnershipTable{
		file:  f,
		base:  base,
		bytes: versionBytes + ownerBytes + usersBytes + totalPages*4,
	}
	t.version = unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(base)), totalPages)
	off := base + uintptr(versionBytes)
	t.owner = unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(off)), totalPages)
	off += uintptr(ownerBytes)
	t.users = unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(off)), totalPages)
	off += uintptr(usersBytes)
	t.twinSlot = unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(off)), totalPages)
	return t
}

// IsShared reports whether pageNo is currently in the shared, read-mostly
// state rather than exclusively owned. Ported from xpersist::isSharedPage.
func (t *OwnershipTable) IsShared(pageNo int) bool {
	return t.owner[pageNo].Load() == SharedPage
}

// SetShared marks pageNo shared with an unconditional atomic store.
// Idempotent: a second caller racing to promote the same page after a
// failed recall signal just stores SharedPage again.
func (t *OwnershipTable) SetShared(pageNo int) {
	t.owner[pageNo].Store(SharedPage)
}

// SetOwner unconditionally assigns pageNo's owner sentinel/pid, bypassing
// the CAS gate ClaimOwner enforces. Ported from xpersist::setCopyOnWrite's
// direct `_pageOwner[i] = ...` array writes, which reinitialize every
// page's ownership at the start of an epoch rather than negotiate it.
func (t *OwnershipTable) SetOwner(pageNo int, owner uint32) {
	t.owner[pageNo].Store(owner)
}

// ClaimOwner attempts to make the calling process the exclusive owner of
// pageNo, succeeding only if it was previously Unclaimed. Ported from
// xpersist::setOwnedPage's CAS-based claim.
func (t *OwnershipTable) ClaimOwner(pageNo int, pid uint32) bool {
	return t.owner[pageNo].CompareAndSwap(Unclaimed, pid)
}

// Release relinquishes ownership of pageNo if pid currently holds it
// exclusively. A page already promoted to SharedPage is left alone —
// commit doesn't get to unshare a page other processes are still using.
func (t *OwnershipTable) Release(pageNo int, pid uint32) {
	t.owner[pageNo].CompareAndSwap(pid, Unclaimed)
}

// Owner returns the current owner sentinel/pid for pageNo.
func (t *OwnershipTable) Owner(pageNo int) uint32 {
	return t.owner[pageNo].Load()
}

// BumpVersion atomically increments pageNo's version and returns the
// new value.
func (t *OwnershipTable) BumpVersion(pageNo int) uint64 {
	return t.version[pageNo].Add(1)
}

// Version returns pageNo's current version counter.
func (t *OwnershipTable) Version(pageNo int) uint64 {
	return t.version[pageNo].Load()
}

// AddUser and RemoveUser track how many processes currently hold a
// mapping over pageNo, mirroring shareinfo.users: the second concurrent
// user is what triggers twin creation in createTwin.
func (t *OwnershipTable) AddUser(pageNo int) uint32 {
	return t.users[pageNo].Add(1)
}

func (t *OwnershipTable) RemoveUser(pageNo int) uint32 {
	return t.users[pageNo].Add(^uint32(0))
}

func (t *OwnershipTable) Users(pageNo int) uint32 {
	return t.users[pageNo].Load()
}

func (t *OwnershipTable) TwinSlot(pageNo int) uint32 {
	return t.twinSlot[pageNo].Load()
}

func (t *OwnershipTable) SetTwinSlot(pageNo int, id uint32) {
	t.twinSlot[pageNo].Store(id)
}

func (t *OwnershipTable) ClearTwinSlot(pageNo int) {
	t.twinSlot[pageNo].Store(0)
}

// Fd exposes the backing memfd for Spawn to inherit across exec.
func (t *OwnershipTable) Fd() uintptr { return t.file.Fd() }

func (t *OwnershipTable) close() error {
	if err := shm.Unmap(t.base, t.bytes); err != nil {
		return err
	}
	return t.file.Close()
}
