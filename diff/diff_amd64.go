//go:build amd64

package diff

import "encoding/binary"

// writePageDiffs is the amd64 fast path: most bytes in a contended page
// are untouched by either writer, so XOR-comparing whole 8-byte words
// and skipping immediately on equality avoids touching dest for the
// common case. This is not the original's literal SSE3
// pcmpeqb/maskmovdqu sequence (that requires hand-written assembly this
// package deliberately avoids, see diff.go) but it is branch-predictable
// and gives the same byte-exact result as the generic scalar path.
func writePageDiffs(local, twin, dest []byte) {
	n := len(local)
	words := n / 8
	for w := 0; w < words; w++ {
		off := w * 8
		lw := binary.LittleEndian.Uint64(local[off : off+8])
		tw := binary.LittleEndian.Uint64(twin[off : off+8])
		if lw == tw {
			continue
		}
		for i := 0; i < 8; i++ {
			if local[off+i] != twin[off+i] {
				dest[off+i] = local[off+i]
			}
		}
	}
	for off := words * 8; off < n; off++ {
		if local[off] != twin[off] {
			dest[off] = local[off]
		}
	}
}
