package diff

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestWritePageDiffsDisjointRanges(t *testing.T) {
	twin := bytes.Repeat([]byte{0xAA}, 64)
	local := append([]byte(nil), twin...)
	local[10] = 0x01
	local[11] = 0x02
	dest := append([]byte(nil), twin...)
	dest[40] = 0x99 // another writer's already-published edit

	WritePageDiffs(local, twin, dest)

	want := append([]byte(nil), twin...)
	want[10] = 0x01
	want[11] = 0x02
	want[40] = 0x99
	if !bytes.Equal(dest, want) {
		t.Fatalf("dest = %x, want %x", dest, want)
	}
}

func TestWritePageDiffsConflict(t *testing.T) {
	twin := bytes.Repeat([]byte{0x00}, 16)
	local := append([]byte(nil), twin...)
	local[5] = 0x7F
	dest := append([]byte(nil), twin...)
	dest[5] = 0x01 // loser's value, should be overwritten by local

	WritePageDiffs(local, twin, dest)

	if dest[5] != 0x7F {
		t.Fatalf("dest[5] = %x, want 0x7f", dest[5])
	}
}

func TestWritePageDiffsNoChange(t *testing.T) {
	twin := bytes.Repeat([]byte{0x42}, 32)
	local := append([]byte(nil), twin...)
	dest := append([]byte(nil), twin...)

	WritePageDiffs(local, twin, dest)

	if !bytes.Equal(dest, twin) {
		t.Fatalf("dest changed when local == twin")
	}
}

func TestWritePageDiffsLengthMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on mismatched lengths")
		}
	}()
	WritePageDiffs(make([]byte, 8), make([]byte, 9), make([]byte, 8))
}

// TestWritePageDiffsRandomMatchesNaive fuzzes both build paths (whichever
// is active for GOARCH) against a trivial byte-by-byte reference.
func TestWritePageDiffsRandomMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(4096)
		twin := make([]byte, n)
		rng.Read(twin)
		local := append([]byte(nil), twin...)
		for i := range local {
			if rng.Intn(4) == 0 {
				local[i] = byte(rng.Intn(256))
			}
		}
		dest := make([]byte, n)
		rng.Read(dest)
		destNaive := append([]byte(nil), dest...)

		WritePageDiffs(local, twin, dest)
		for i := range destNaive {
			if local[i] != twin[i] {
				destNaive[i] = local[i]
			}
		}

		if !bytes.Equal(dest, destNaive) {
			t.Fatalf("trial %d: mismatch at n=%d", trial, n)
		}
	}
}
