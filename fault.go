package dthreads

import "context"

// HandleAccess is the fault classification entrypoint (spec.md's "page
// fault classification" callback). It never installs a signal handler
// itself — wiring a real SIGSEGV trap onto it is explicitly out of
// scope, per spec.md's Non-goals, and left to callers such as the
// optional trap package. HandleAccess only needs an address, whether
// the access was a write, and (for logging) the faulting PC.
//
// Ported from xpersist::handleAccess, which dispatches to handleRead or
// handleWrite based on the trapped access's write bit.
func (r *Region) HandleAccess(addr uintptr, isWrite bool, pc uintptr) error {
	pageNo, err := r.pageNoFor(addr)
	if err != nil {
		return err
	}
	if isWrite {
		return r.handleWrite(pageNo, pc)
	}
	return r.handleRead(pageNo, pc)
}

// handleRead ported from xpersist::handleRead. AccessUnused means this
// page is currently owned exclusively by some other process, so it is
// first recalled through the Coordinator before the read is allowed to
// proceed — the original's PAGE_UNUSED -> notifyOwnerToCommit branch.
// Anything already touched this transaction is left alone.
func (r *Region) handleRead(pageNo int, pc uintptr) error {
	r.mu.Lock()
	state := r.access[pageNo]
	r.mu.Unlock()

	switch state {
	case AccessUnused:
		if err := r.recall(pageNo); err != nil {
			return err
		}
		r.mu.Lock()
		r.access[pageNo] = AccessRead
		r.mu.Unlock()
	case AccessNone:
		r.mu.Lock()
		r.access[pageNo] = AccessRead
		r.mu.Unlock()
	case AccessRead, AccessReadWrite:
		// already tracked this transaction, nothing to do
	default:
		return ErrInvalidState
	}

	r.logger.Add(Event{Kind: EventRead, PC: pc, Page: uint64(pageNo), Region: r.id})
	return nil
}

// handleWrite ported from xpersist::handleWrite. AccessUnused recalls
// the page through the Coordinator before claiming it, exactly like
// handleRead. The original's switch falls through from the READ_WRITE
// case to nothing — a page already owned and writable this transaction
// needs no further bookkeeping — and asserts on any state outside the
// four it defines; that assert becomes ErrInvalidState here
// (SPEC_FULL.md §9 resolves this as intentional, not an oversight).
func (r *Region) handleWrite(pageNo int, pc uintptr) error {
	r.mu.Lock()
	state := r.access[pageNo]
	r.mu.Unlock()

	switch state {
	case AccessReadWrite:
		// fallthrough intentional: already owned and writable, nothing to do
		r.logger.Add(Event{Kind: EventWrite, PC: pc, Page: uint64(pageNo), Region: r.id})
		return nil
	case AccessUnused:
		if err := r.recall(pageNo); err != nil {
			return err
		}
		fallthrough
	case AccessNone, AccessRead:
		if err := r.claimForWrite(pageNo); err != nil {
			return err
		}
	default:
		return ErrInvalidState
	}

	r.mu.Lock()
	r.access[pageNo] = AccessReadWrite
	r.mu.Unlock()

	r.dirty.touch(pageNo, r.arena, r.ownership.Version(pageNo))
	r.logger.Add(Event{Kind: EventWrite, PC: pc, Page: uint64(pageNo), Region: r.id})
	return nil
}

// recall asks whichever process currently owns pageNo to publish it
// before this process is allowed to touch it locally. A page that is
// unclaimed, already shared, or owned by this same process needs no
// round trip. Ported from the PAGE_UNUSED branch shared by
// xpersist::handleRead and xpersist::handleWrite.
func (r *Region) recall(pageNo int) error {
	owner := r.ownership.Owner(pageNo)
	if owner == Unclaimed || owner == SharedPage || owner == r.pid {
		return nil
	}
	return r.NotifyOwnerToCommit(context.Background(), owner, pageNo)
}

// claimForWrite promotes pageNo's protection to read-write in this
// process's transient view and resolves ownership: an unclaimed page is
// claimed outright, a page this process already owns (e.g. via a prior
// SetOwnedPage call) needs nothing further, while a page already shared
// (or owned elsewhere) needs a twin snapshot before this process's
// edits and whoever holds the other copy can be three-way merged at
// commit time.
//
// Ported from xpersist::handleWrite's mprotect + setOwnedPage +
// createTwinPage sequence.
func (r *Region) claimForWrite(pageNo int) error {
	addr := r.transientBase + uintptr(pageNo*PageSize)
	if err := mprotectAt(addr, PageSize, unixProtRW()); err != nil {
		return err
	}

	if r.ownership.Owner(pageNo) == r.pid || r.ownership.ClaimOwner(pageNo, r.pid) {
		return r.owned.add(pageNo)
	}

	// Someone else already owns it, or it's shared: this process becomes
	// a second user and needs its own twin to diff against at commit.
	r.ownership.AddUser(pageNo)
	if r.ownership.TwinSlot(pageNo) == 0 {
		if err := r.createTwin(pageNo); err != nil {
			return err
		}
	}
	r.ownership.SetShared(pageNo)
	return r.owned.add(pageNo)
}
