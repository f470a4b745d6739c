package dthreads

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Mic92/dthreads/internal/shm"
)

const (
	logRecordSize            = 48 // kind(1)+pad(7)+pc(8)+page(8)+region(16)+unused(8)
	defaultLogRecordCapacity = 4096
	maxLogReserveRecords     = 1 << 22 // headroom; VA reservation is cheap
)

// MmapLogger is a growable, mmap-backed event log over a memfd. Its
// append cursor and capacity live in this process's memory, not in the
// mapped file, and there is no constructor that attaches to an existing
// log, so one MmapLogger records the events of the process that created
// it.
//
// Growth reuses the region's own reserve-then-MAP_FIXED technique
// (mmap_unix.go) rather than "allocate new backing, copy, swap":
// growing the log means ftruncate-ing the memfd larger and then
// remapping the already page-aligned VA reservation at the same base
// address with a bigger length. No bytes ever move, so a slot index
// handed out earlier stays valid after a grow.
//
// Ported from xlogger.cpp's atomic-increment-and-grow append, adapted
// for cross-process growth the way Region.SetCopyOnWrite reuses
// mmap_unix's fixed-address remap for cross-transaction protection
// changes.
type MmapLogger struct {
	file shm.File

	mu       sync.Mutex // serializes growth only; Add's slot claim is lock-free
	base     uintptr
	reserve  int
	mapped   int // bytes currently mapped
	capacity atomic.Uint64
	count    atomic.Uint64
}

// NewMmapLogger creates a fresh log with room for initialCapacity
// records (0 selects a small default) before its first grow.
func NewMmapLogger(initialCapacity uint64) (*MmapLogger, error) {
	if initialCapacity == 0 {
		initialCapacity = defaultLogRecordCapacity
	}
	f, err := createShared("dthreads-log", logHeaderSize+int(initialCapacity)*logRecordSize)
	if err != nil {
		return nil, err
	}
	reserve := logHeaderSize + maxLogReserveRecords*logRecordSize
	base, err := reserveVA(reserve)
	if err != nil {
		f.Close()
		return nil, err
	}
	l := &MmapLogger{file: f, base: base, reserve: reserve}
	if err := l.remap(int(initialCapacity)); err != nil {
		munmapAt(base, reserve)
		f.Close()
		return nil, err
	}
	if err := encodeLogHeader(sliceAt(base, logHeaderSize), &logHeader{
		FormatVersion: logFormatVersion,
		RecordSize:    logRecordSize,
		Capacity:      initialCapacity,
	}); err != nil {
		munmapAt(base, reserve)
		f.Close()
		return nil, err
	}
	l.capacity.Store(initialCapacity)
	return l, nil
}

func (l *MmapLogger) remap(records int) error {
	size := logHeaderSize + records*logRecordSize
	if err := l.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("dthreads: grow log to %d records: %w", records, err)
	}
	if err := mmapFixedFunc(l.base, size, l.file, unixProtRW(), true); err != nil {
		return err
	}
	l.mapped = size
	if h, err := decodeLogHeader(sliceAt(l.base, logHeaderSize)); err == nil {
		h.Capacity = uint64(records)
		_ = encodeLogHeader(sliceAt(l.base, logHeaderSize), h)
	}
	return nil
}

// Add reserves the next slot with an atomic increment and encodes ev
// into it, growing the log first if it's full.
func (l *MmapLogger) Add(ev Event) {
	for {
		idx := l.count.Load()
		capNow := l.capacity.Load()
		if idx >= capNow {
			l.mu.Lock()
			if l.capacity.Load() <= idx {
				next := capNow * 2
				if next == 0 {
					next = defaultLogRecordCapacity
				}
				if logHeaderSize+int(next)*logRecordSize <= l.reserve {
					if err := l.remap(int(next)); err == nil {
						l.capacity.Store(next)
					}
				}
			}
			l.mu.Unlock()
			continue
		}
		if l.count.CompareAndSwap(idx, idx+1) {
			l.encode(idx, ev)
			return
		}
	}
}

func (l *MmapLogger) encode(idx uint64, ev Event) {
	off := logHeaderSize + uintptr(idx)*logRecordSize
	b := sliceAt(l.base+off, logRecordSize)
	b[0] = byte(ev.Kind)
	binary.LittleEndian.PutUint64(b[8:16], uint64(ev.PC))
	binary.LittleEndian.PutUint64(b[16:24], ev.Page)
	copy(b[24:40], ev.Region[:])
}

// Len returns the number of records appended so far.
func (l *MmapLogger) Len() uint64 { return l.count.Load() }

// At decodes the record at idx. idx must be < Len().
func (l *MmapLogger) At(idx uint64) Event {
	off := logHeaderSize + uintptr(idx)*logRecordSize
	b := sliceAt(l.base+off, logRecordSize)
	var ev Event
	ev.Kind = EventKind(b[0])
	ev.PC = uintptr(binary.LittleEndian.Uint64(b[8:16]))
	ev.Page = binary.LittleEndian.Uint64(b[16:24])
	copy(ev.Region[:], b[24:40])
	return ev
}

// Close unmaps and closes the log's backing memfd.
func (l *MmapLogger) Close() error {
	if err := munmapAt(l.base, l.reserve); err != nil {
		return err
	}
	return l.file.Close()
}
