package dthreads

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind distinguishes a region whose transient view sits at a
// kernel-chosen heap address from one pinned at a caller-supplied
// address standing in for the original's "global" variables. Go has no
// link-time data-segment address to intercept the way the original did,
// so Global mode is adapted: the caller reserves a stable address with
// ReserveGlobalVA, initializes it however it likes, and hands that
// range to New via WithGlobalAddr so the transient view is pinned there
// instead of wherever the kernel would otherwise place it.
type Kind int

const (
	Heap Kind = iota
	Global
)

func (k Kind) String() string {
	if k == Global {
		return "global"
	}
	return "heap"
}

// Region is one process-level transactional memory area: a persistent
// view (always MAP_SHARED, always read-write, the thing diffs are
// merged into) and a transient view at a stable address (the one
// callers actually read and write through), both backed by the same
// memfd. Outside a transaction both views are plain MAP_SHARED passthrough
// mappings; SetCopyOnWrite(true) begins a transaction by remapping the
// transient view MAP_PRIVATE/PROT_READ so the first write page-faults
// into HandleAccess.
//
// Grounded in xpersist (src/include/xpersist.h): _persistentMemory /
// _startaddr, setCopyOnWrite, closeProtection, handleAccess.
type Region struct {
	id   uuid.UUID
	kind Kind

	backing    *os.File
	ownershipF *os.File

	persistentBase uintptr
	transientBase  uintptr
	reserveSize    int
	size           int
	totalPages     int

	copyOnWrite atomic.Bool
	closed      atomic.Bool

	ownership *OwnershipTable
	twins     TwinBitmap
	arena     PageEntryArena
	dirty     *dirtyList
	owned     *ownedBlockRegistry
	mailbox   *mailbox
	logger    Logger

	// access is this process's private view of each page's access state.
	// Unlike ownership, it is never shared: every OS process in this
	// package already has its own isolated heap, so there is no need for
	// the original's MAP_PRIVATE|MAP_ANON trick to get per-process
	// isolation. mu guards it against the
	// goroutine that services recall signals (coordinator.go), which the
	// original's raw signal handler didn't have to share state with.
	mu     sync.Mutex
	access []AccessState

	pid uint32
}

// ReserveGlobalVA reserves a stable, unmapped address range outside any
// region for use with WithGlobalAddr. Call it before New so the
// returned address is free to be taken over when the transient view is
// mapped.
func ReserveGlobalVA(size int) (uintptr, error) {
	return reserveVA(pageAlign(size))
}

// New creates a fresh region of size bytes (rounded up to a page),
// establishing its own backing memfd and ownership table. The caller
// that calls New is the "coordinator" process; other cooperating
// processes join the same region via Spawn/JoinEnv (spawn.go).
func New(size int, opts ...RegionOption) (*Region, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	aligned := pageAlign(size)
	totalPages := aligned / PageSize

	backing, err := createShared("dthreads-backing", aligned)
	if err != nil {
		return nil, err
	}

	ownershipF, table, err := newOwnershipTable(totalPages)
	if err != nil {
		backing.Close()
		return nil, err
	}

	twins := cfg.twins
	if twins == nil {
		twins, err = newDefaultTwinBitmap(totalPages)
		if err != nil {
			ownershipF.Close()
			backing.Close()
			return nil, err
		}
	}

	mb, err := newMailbox()
	if err != nil {
		ownershipF.Close()
		backing.Close()
		return nil, err
	}

	r := &Region{
		id:          cfg.id,
		kind:        cfg.kind,
		backing:     backing,
		ownershipF:  ownershipF,
		reserveSize: pageAlign(maxInt(cfg.reserveVA, aligned)),
		size:        aligned,
		totalPages:  totalPages,
		ownership:   table,
		twins:       twins,
		arena:       cfg.arena,
		dirty:       newDirtyList(),
		owned:       newOwnedBlockRegistry(MaxOwnedBlocks()),
		mailbox:     mb,
		logger:      cfg.logger,
		access:      make([]AccessState, totalPages),
		pid:         uint32(os.Getpid()),
	}

	persistentBase, err := reserveVA(r.reserveSize)
	if err != nil {
		r.teardownPartial()
		return nil, err
	}
	r.persistentBase = persistentBase
	if err := mmapFixedFunc(r.persistentBase, aligned, backing, unixProtRW(), true); err != nil {
		r.teardownPartial()
		return nil, fmt.Errorf("dthreads: map persistent view: %w", err)
	}

	var transientBase uintptr
	if cfg.kind == Global {
		if cfg.globalAddr == 0 {
			r.teardownPartial()
			return nil, fmt.Errorf("dthreads: global region requires WithGlobalAddr")
		}
		transientBase = cfg.globalAddr
	} else {
		transientBase, err = reserveVA(r.reserveSize)
		if err != nil {
			r.teardownPartial()
			return nil, err
		}
	}
	r.transientBase = transientBase
	if err := mmapFixedFunc(r.transientBase, aligned, backing, unixProtRW(), true); err != nil {
		r.teardownPartial()
		return nil, fmt.Errorf("dthreads: map transient view: %w", err)
	}

	if len(cfg.initialData) > 0 {
		n := len(cfg.initialData)
		if n > aligned {
			n = aligned
		}
		copy(sliceAt(r.persistentBase, n), cfg.initialData[:n])
	}

	return r, nil
}

func (r *Region) teardownPartial() {
	if r.persistentBase != 0 {
		_ = munmapAt(r.persistentBase, r.reserveSize)
	}
	if r.transientBase != 0 && r.kind != Global {
		_ = munmapAt(r.transientBase, r.reserveSize)
	}
	if r.ownershipF != nil {
		r.ownershipF.Close()
	}
	if r.backing != nil {
		r.backing.Close()
	}
}

// ID returns the region's identity, shared by every process joined to
// it (spec.md §3: "region identity").
func (r *Region) ID() uuid.UUID { return r.id }

// Base is the address callers read and write through.
func (r *Region) Base() uintptr { return r.transientBase }

// Size is the region's size in bytes.
func (r *Region) Size() int { return r.size }

// InRange reports whether addr falls within the region's transient view.
func (r *Region) InRange(addr uintptr) bool {
	return addr >= r.transientBase && addr < r.transientBase+uintptr(r.size)
}

func (r *Region) pageNoFor(addr uintptr) (int, error) {
	if !r.InRange(addr) {
		return 0, ErrOutOfBounds
	}
	return int(addr-r.transientBase) / PageSize, nil
}

// SetCopyOnWrite begins or ends isolation for this process's transient
// view. Beginning isolation remaps the transient view MAP_PRIVATE and
// PROT_READ so the next write to any page faults, then reinitializes
// every page's ownership and access state for the new epoch:
//
//   - Global regions mark every page SharedPage/AccessRead, matching
//     every other process's view of the same globals from the start.
//   - Heap regions split at end: pages below it (already allocated by
//     the time this epoch began) become SharedPage/AccessNone, pages at
//     or above it are Unclaimed/AccessUnused until a caller claims them
//     with SetOwnedPage or a write fault claims them lazily.
//
// Ending isolation (closeProtection's counterpart) restores the
// baseline MAP_SHARED, PROT_READ|PROT_WRITE mapping used outside a
// transaction; end is unused in that direction.
//
// Ported from xpersist::setCopyOnWrite / closeProtection. Unlike the
// original, which calls setCopyOnWrite once per long-lived epoch and
// begin()/checkandcommit many times within it, Region's Begin/Commit
// collapse each transaction into its own epoch (see tx.go), so this
// reinitialization runs on every Begin, not once per program run.
func (r *Region) SetCopyOnWrite(end uintptr, enable bool) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if enable {
		if err := mmapFixedFunc(r.transientBase, r.size, r.backing, unixProtRead(), false); err != nil {
			abortFunc("set copy-on-write on region %s: %v", r.id, err)
		}

		r.mu.Lock()
		if r.kind == Heap {
			allocPages := 0
			if end > r.transientBase {
				allocPages = int(end-r.transientBase) / PageSize
			}
			if allocPages > r.totalPages {
				allocPages = r.totalPages
			}
			for i := 0; i < allocPages; i++ {
				r.ownership.SetShared(i)
				r.access[i] = AccessNone
			}
			for i := allocPages; i < r.totalPages; i++ {
				r.ownership.SetOwner(i, Unclaimed)
				r.access[i] = AccessUnused
			}
		} else {
			for i := 0; i < r.totalPages; i++ {
				r.ownership.SetShared(i)
				r.access[i] = AccessRead
			}
		}
		r.mu.Unlock()
	} else {
		if err := mmapFixedFunc(r.transientBase, r.size, r.backing, unixProtRW(), true); err != nil {
			abortFunc("close protection on region %s: %v", r.id, err)
		}
		r.mu.Lock()
		for i := range r.access {
			r.access[i] = AccessNone
		}
		r.mu.Unlock()
	}
	r.copyOnWrite.Store(enable)
	return nil
}

// CopyOnWrite reports whether this process is mid-transaction.
func (r *Region) CopyOnWrite() bool { return r.copyOnWrite.Load() }

// Initialize binds logger as this region's event sink and clears any
// dirty-page bookkeeping left over from a previous lifecycle. Ported
// from xpersist::initialize; New already does the equivalent setup for
// a freshly constructed Region, so Initialize exists for a caller that
// wants to rebind the logger (or simply re-arm the dirty list) without
// tearing the region down and recreating it.
func (r *Region) Initialize(logger Logger) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.logger = logger
	r.dirty.reset(r.arena)
	return nil
}

// SetOwnedPage claims a freshly allocated superblock of size bytes
// starting at addr for this process outright: every page in the block
// becomes exclusively owned, PROT_NONE locally until first touched, and
// added to the owned-block registry so it gets flushed at the next
// Commit/FinalCommit. Ported from xpersist::setOwnedPage; a no-op
// outside a transaction, matching the original's early return when
// copy-on-write isn't enabled.
func (r *Region) SetOwnedPage(addr uintptr, size int) error {
	if !r.CopyOnWrite() {
		return nil
	}
	startPage, err := r.pageNoFor(addr)
	if err != nil {
		return err
	}
	pages := pageAlign(size) / PageSize
	if startPage+pages > r.totalPages {
		return ErrOutOfBounds
	}

	if err := mprotectAt(addr, pages*PageSize, unixProtNone()); err != nil {
		abortFunc("set owned page on region %s: %v", r.id, err)
	}

	r.mu.Lock()
	for i := startPage; i < startPage+pages; i++ {
		r.access[i] = AccessNone
	}
	r.mu.Unlock()

	for i := startPage; i < startPage+pages; i++ {
		// Unconditional, like the original's direct _pageOwner[i] = pid:
		// a freshly claimed superblock has no reader to race with, so
		// there is nothing to CAS against.
		r.ownership.SetOwner(i, r.pid)
		if err := r.owned.add(i); err != nil {
			return err
		}
	}
	return nil
}

// CloseProtection unconditionally ends isolation: writes become visible
// to every process immediately and the fault path is disabled until
// the next Begin. Ported from xpersist::closeProtection.
func (r *Region) CloseProtection() error {
	return r.SetCopyOnWrite(0, false)
}

// Finalize tears down copy-on-write isolation if this process is still
// mid-transaction, leaving the region's protection state exactly as if
// it had never entered one. Ported from xpersist::finalize; call before
// a process exits so a half-finished transaction doesn't leave the
// transient view mapped private.
func (r *Region) Finalize() error {
	if r.CopyOnWrite() {
		return r.SetCopyOnWrite(0, false)
	}
	return nil
}

// Close unmaps both views and closes this process's handles on the
// backing, ownership, mailbox and twin resources, and the logger if it
// has a Close method. There is no separate teardown method for a
// process joined with JoinEnv.
func (r *Region) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if e := munmapAt(r.persistentBase, r.reserveSize); e != nil {
		err = e
	}
	if r.kind != Global {
		if e := munmapAt(r.transientBase, r.reserveSize); e != nil {
			err = e
		}
	}
	r.ownership.close()
	r.mailbox.close()
	if e := r.ownershipF.Close(); e != nil {
		err = e
	}
	if e := r.backing.Close(); e != nil {
		err = e
	}
	if closer, ok := r.twins.(interface{ Close() error }); ok {
		if e := closer.Close(); e != nil {
			err = e
		}
	}
	if closer, ok := r.logger.(interface{ Close() error }); ok {
		if e := closer.Close(); e != nil {
			err = e
		}
	}
	return err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
