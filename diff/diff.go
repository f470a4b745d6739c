// Package diff implements the three-way page merge at the heart of the
// Twin & Diff Engine: for every byte where local differs from twin, the
// local byte wins; bytes equal to twin are left untouched in dest. This
// lets two writers who touched disjoint byte ranges of the same page
// both survive a commit without either one clobbering the other.
//
// Ported from the original xpersist::writePageDiffs. The real
// implementation used SSE3 compare/invert/maskmove; the build-tag-gated
// writePageDiffs below is the word-at-a-time stand-in documented in
// SPEC_FULL.md §4.4 — a pure-Go build can't emit the original's
// pcmpeqb/maskmovdqu sequence without hand-written assembly, so amd64
// gets a 64-bit word path that skips unchanged words (diff_amd64.go) and everything
// else gets the original's scalar fallback (diff_generic.go). Both must
// be byte-exact; diff_test.go checks them against the same fixtures.
package diff

// PageSize is fixed by the caller (the region's page size); passed in
// rather than imported to keep this package free of any Region coupling.
func WritePageDiffs(local, twin, dest []byte) {
	n := len(local)
	if len(twin) != n || len(dest) != n {
		panic("diff: local, twin and dest must be the same length")
	}
	writePageDiffs(local, twin, dest)
}
