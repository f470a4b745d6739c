package dthreads

import "testing"

// A plain Begin/Write/Commit with no SetOwnedPage call writes to a page
// Begin already marked SharedPage (the default-allocated end of the
// heap split, SPEC_FULL.md §4.1's Init scenario), so it takes the
// shared/twin path rather than the exclusive-claim fast path: the page
// stays SharedPage after commit, not Unclaimed.
func TestCommitClearsOwnedPages(t *testing.T) {
	r := newTestRegion(t, PageSize)
	if err := r.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := r.WriteUint64(0, 1); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	if r.owned.len() == 0 {
		t.Fatal("expected a write to register an owned page before commit")
	}
	if err := r.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if r.owned.len() != 0 {
		t.Fatal("expected Commit to clear the owned-page registry")
	}
	if r.ownership.Owner(0) != SharedPage {
		t.Fatalf("Owner(0) = %d, want SharedPage after commit", r.ownership.Owner(0))
	}
	if r.ownership.Version(0) != 1 {
		t.Fatalf("Version(0) = %d, want 1 after first commit", r.ownership.Version(0))
	}
}

// SetOwnedPage pre-claims a page outright (as if this process just
// grabbed a fresh superblock), so a write to it never contends with
// anyone and the exclusive fast path releases the page back to
// Unclaimed at commit, unlike a plain write to a never-claimed page
// (TestCommitClearsOwnedPages), which takes the shared/twin path.
func TestSetOwnedPageTakesExclusiveFastPath(t *testing.T) {
	r := newTestRegion(t, PageSize)
	if err := r.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := r.SetOwnedPage(r.Base(), PageSize); err != nil {
		t.Fatalf("SetOwnedPage: %v", err)
	}
	if r.ownership.Owner(0) != r.pid {
		t.Fatalf("Owner(0) = %d, want this process's pid after SetOwnedPage", r.ownership.Owner(0))
	}
	if err := r.WriteUint64(0, 42); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	if r.ownership.TwinSlot(0) != 0 {
		t.Fatal("expected no twin for a page exclusively pre-claimed via SetOwnedPage")
	}
	if err := r.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if r.ownership.Owner(0) != Unclaimed {
		t.Fatalf("Owner(0) = %d, want Unclaimed after commit", r.ownership.Owner(0))
	}
	v, err := r.ReadUint64(0)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if v != 42 {
		t.Fatalf("ReadUint64(0) = %d, want 42", v)
	}
}

func TestCommitWithTwinMergesDisjointEdits(t *testing.T) {
	r := newTestRegion(t, PageSize)

	// Simulate a second process already owning page 0 and sharing it, so
	// this process's write path creates a twin instead of claiming outright.
	r.ownership.ClaimOwner(0, r.pid+1)
	r.ownership.SetShared(0)

	if err := r.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := r.WriteUint64(8, 0xff); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	if r.ownership.TwinSlot(0) == 0 {
		t.Fatal("expected a twin to be created for a page shared with another owner")
	}
	if err := r.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if r.ownership.TwinSlot(0) != 0 {
		t.Fatal("expected the twin slot to be cleared after commit")
	}

	v, err := r.ReadUint64(8)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if v != 0xff {
		t.Fatalf("ReadUint64(8) = %#x, want 0xff", v)
	}
}
