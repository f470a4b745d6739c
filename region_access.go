package dthreads

import (
	"encoding/binary"
	"math"
)

// This file is the instrumented calling convention described in
// SPEC_FULL.md §4.3: rather than relying on a real SIGSEGV trap (which
// this module deliberately doesn't install, see fault.go), callers that
// know their access pattern up front can go through these typed
// accessors, which call HandleAccess themselves before touching memory.
// Ported from the teacher's store_read.go/store_write.go typed field
// accessors, retargeted from record-relative offsets to region-relative
// byte offsets.

// MemWrite writes a machine-word value directly into the persistent
// view at addr, bypassing HandleAccess/the dirty list/the twin-diff
// machinery entirely. Ported from xpersist::mem_write, which writes
// straight through `_persistentMemory` for bookkeeping that must be
// visible to every process immediately rather than waiting for this
// process's next Commit. addr is an address in the region's address
// space, the same convention HandleAccess uses.
func (r *Region) MemWrite(addr uintptr, value uint64) error {
	if !r.InRange(addr) {
		return ErrOutOfBounds
	}
	offset := addr - r.transientBase
	if int(offset)+8 > r.size {
		return ErrOutOfBounds
	}
	binary.LittleEndian.PutUint64(sliceAt(r.persistentBase+offset, 8), value)
	return nil
}

func (r *Region) byteSlice(offset uint32, n int, pc uintptr, write bool) ([]byte, error) {
	addr := r.transientBase + uintptr(offset)
	if int(offset)+n > r.size {
		return nil, ErrOutOfBounds
	}
	if err := r.HandleAccess(addr, write, pc); err != nil {
		return nil, err
	}
	return sliceAt(addr, n), nil
}

// ReadUint64 reads a little-endian uint64 at offset, treating the
// access as a read for classification purposes.
func (r *Region) ReadUint64(offset uint32) (uint64, error) {
	b, err := r.byteSlice(offset, 8, callerPC(), false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteUint64 writes v at offset, claiming the page for write first.
func (r *Region) WriteUint64(offset uint32, v uint64) error {
	b, err := r.byteSlice(offset, 8, callerPC(), true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (r *Region) ReadUint32(offset uint32) (uint32, error) {
	b, err := r.byteSlice(offset, 4, callerPC(), false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteUint32 writes v at offset, claiming the page for write first.
func (r *Region) WriteUint32(offset uint32, v uint32) error {
	b, err := r.byteSlice(offset, 4, callerPC(), true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// ReadFloat64 reads a float64 at offset.
func (r *Region) ReadFloat64(offset uint32) (float64, error) {
	b, err := r.byteSlice(offset, 8, callerPC(), false)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// WriteFloat64 writes v at offset, claiming the page for write first.
func (r *Region) WriteFloat64(offset uint32, v float64) error {
	b, err := r.byteSlice(offset, 8, callerPC(), true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return nil
}

// ReadBytes returns a zero-copy view of n bytes at offset, treated as a
// read. The returned slice is only valid until the next SetCopyOnWrite
// or Close call remaps the transient view.
func (r *Region) ReadBytes(offset uint32, n int) ([]byte, error) {
	return r.byteSlice(offset, n, callerPC(), false)
}

// WriteBytes copies src into the region at offset, claiming every page
// it spans for write first.
func (r *Region) WriteBytes(offset uint32, src []byte) error {
	pc := callerPC()
	// Touch page-by-page so a write spanning a page boundary claims and
	// diffs both pages independently, matching the per-page granularity
	// the rest of the region operates at.
	end := int(offset) + len(src)
	for pos := int(offset); pos < end; {
		pageEnd := (pos/PageSize + 1) * PageSize
		chunkEnd := pageEnd
		if chunkEnd > end {
			chunkEnd = end
		}
		n := chunkEnd - pos
		b, err := r.byteSlice(uint32(pos), n, pc, true)
		if err != nil {
			return err
		}
		copy(b, src[pos-int(offset):pos-int(offset)+n])
		pos = chunkEnd
	}
	return nil
}
