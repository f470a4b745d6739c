package dthreads

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Mic92/dthreads/diff"
)

// Begin starts a transaction for this process by enabling copy-on-write
// isolation on the transient view. It passes the full region as the
// allocated range, so every page starts SharedPage/readable the way a
// caller that never uses SetOwnedPage expects; a caller modeling a
// growing heap with genuinely unclaimed territory beyond some watermark
// should call SetCopyOnWrite directly with that watermark instead.
// Ported from xpersist::begin.
func (r *Region) Begin() error {
	return r.SetCopyOnWrite(r.transientBase+uintptr(r.size), true)
}

// Commit publishes every page this process dirtied during the current
// transaction. A page whose version has not moved since this process
// first wrote it is copied straight to the persistent view; a page with
// a twin that another process has published since then is three-way
// merged against that twin so both writers' disjoint edits survive.
//
// Ported from xpersist::checkandcommit / finalcommit.
func (r *Region) Commit() error {
	if err := r.commitOwnedPages(); err != nil {
		return err
	}
	r.dirty.reset(r.arena)
	return r.SetCopyOnWrite(0, false)
}

// Nop ends a transaction that made no writes, skipping the commit
// machinery entirely. A caller that turns out to have written anyway
// falls back to a full Commit rather than silently dropping those
// pages' twins and user counts on the floor — ownership state has no
// "abandon" operation, only publish. Ported from xpersist::nop, which
// is a query in the original (whether _dirtiedPagesList is empty); this
// port folds the answer into the action itself.
func (r *Region) Nop() error {
	if r.owned.len() > 0 {
		return r.Commit()
	}
	r.dirty.reset(r.arena)
	return r.SetCopyOnWrite(0, false)
}

// commitOwnedPages walks this process's owned pages and merges each one,
// without ending the transaction — the building block both Commit and
// the coordinator's forced-commit path share.
func (r *Region) commitOwnedPages() error {
	for _, pageNo := range r.owned.list() {
		if err := r.updatePage(pageNo); err != nil {
			return err
		}
		r.owned.remove(pageNo)
	}
	return msyncAt(r.persistentBase, r.size)
}

// updatePage merges pageNo's transient contents into the persistent
// view and bumps its version, following xpersist::checkandcommit's
// publish policy:
//
//  1. a second concurrent writer that still beat claimForWrite's own
//     twin creation to this point gets one now (defensive — claimForWrite
//     already creates it eagerly, so this is normally a no-op);
//  2. the page is published with a straight memcpy if its version
//     hasn't moved since this process first claimed it (nobody else
//     published in between), or a twin-diff merge if it has;
//  3. the twin is only freed, and this process's private copy only
//     dropped, once the last concurrent user has left — an earlier
//     committer's merged edits must stay visible to the twin until
//     everyone sharing it has diffed against it. Freeing it on the
//     first committer instead would let a later committer's raw
//     copy(persistent, local) clobber those edits (lost update).
//
// checkandcommit has a fourth step this does not port: skipping the
// publish entirely for a page with no contention (release = false),
// left owned across transactions. That optimization relies on begin()
// being a lightweight per-dirty-page reset within one long-lived
// setCopyOnWrite(true) epoch — the original calls setCopyOnWrite once
// per epoch and begin()/checkandcommit many times within it. Region's
// Begin/Commit collapse that into one setCopyOnWrite call per
// transaction (SPEC_FULL.md §4.5's Begin/Commit contract), so Commit
// always ends copy-on-write and remaps the transient view fresh;
// skipping the publish here would discard the process's own edits
// rather than defer them. Every owned page is therefore always
// published.
//
// Ported from xpersist::checkandcommit / commitOwnedPage.
func (r *Region) updatePage(pageNo int) error {
	users := r.ownership.Users(pageNo)

	if users > 0 && r.ownership.TwinSlot(pageNo) == 0 {
		if err := r.createTwin(pageNo); err != nil {
			return err
		}
	}

	local := sliceAt(r.transientBase+uintptr(pageNo*PageSize), PageSize)
	persistent := sliceAt(r.persistentBase+uintptr(pageNo*PageSize), PageSize)

	twinID := r.ownership.TwinSlot(pageNo)
	claimVersion := r.ownership.Version(pageNo)
	if entry, ok := r.dirty.get(pageNo); ok {
		claimVersion = entry.ClaimVersion
	}

	if twinID == 0 || claimVersion == r.ownership.Version(pageNo) {
		copy(persistent, local)
	} else {
		twin := unsafe.Slice((*byte)(r.twins.Address(twinID)), PageSize)
		diff.WritePageDiffs(local, twin, persistent)
		r.ownership.SetShared(pageNo)
	}

	if twinID != 0 {
		if remaining := r.ownership.RemoveUser(pageNo); remaining == 0 {
			r.twins.Free(twinID)
			r.ownership.ClearTwinSlot(pageNo)

			// The twin has done its job for every concurrent writer: this
			// process's private copy is now stale, so drop it rather than
			// waiting for the next SetCopyOnWrite remap to discard it in
			// bulk. Ported from xpersist::commitOwnedPage's
			// madvise(addr, PageSize, MADV_DONTNEED) on the setShared path.
			addr := r.transientBase + uintptr(pageNo*PageSize)
			_ = madviseFunc(addr, PageSize, unix.MADV_DONTNEED)
		}
	}

	r.ownership.BumpVersion(pageNo)
	r.ownership.Release(pageNo, r.pid)
	return nil
}
