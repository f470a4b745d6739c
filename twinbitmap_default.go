package dthreads

import (
	"os"

	"github.com/Mic92/dthreads/bitmap"
)

// newDefaultTwinBitmap builds the RoaringBitmap-backed twin arena
// (bitmap.Arena) with one usable slot per page in the region, plus the
// reserved slot 0 — the same worst case the original allows (every page
// contended at once). bitmap.Arena satisfies TwinBitmap structurally.
func newDefaultTwinBitmap(totalPages int) (TwinBitmap, error) {
	return bitmap.NewArena(totalPages+1, PageSize)
}

// openDefaultTwinBitmap maps an arena inherited across exec (spawn.go).
func openDefaultTwinBitmap(f *os.File, slotCount int) (TwinBitmap, error) {
	return bitmap.OpenArena(f, slotCount, PageSize)
}
