package dthreads

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// logMagic identifies an MmapLogger backing file; logFormatVersion guards
// against a future incompatible record layout. Adapted from the
// teacher's Header/EncodeHeader/DecodeHeader, repointed at the event
// log's record stream instead of a generic record store.
var logMagic = [4]byte{'d', 't', 'l', 'g'}

const logFormatVersion = 1

// logHeaderSize is the fixed prefix reserved at the front of an
// MmapLogger's backing file, ahead of its record slots.
const logHeaderSize = 64

// ErrBadLogMagic is returned by decodeLogHeader when a log file's magic
// bytes don't match, meaning the bytes decoded are not an MmapLogger
// header.
var ErrBadLogMagic = fmt.Errorf("dthreads: log header: bad magic")

// logHeader is the fixed 64-byte record at offset 0 of an MmapLogger's
// backing file: format version, record size, capacity and region id.
// It does not record how many records have been appended.
type logHeader struct {
	FormatVersion uint32
	RecordSize    uint32
	Capacity      uint64
	Region        [16]byte
}

func encodeLogHeader(dst []byte, h *logHeader) error {
	if len(dst) < logHeaderSize {
		return fmt.Errorf("dthreads: log header encode: buffer too small (%d < %d)", len(dst), logHeaderSize)
	}
	copy(dst[0:4], logMagic[:])
	binary.LittleEndian.PutUint32(dst[4:8], h.FormatVersion)
	binary.LittleEndian.PutUint32(dst[8:12], h.RecordSize)
	binary.LittleEndian.PutUint64(dst[12:20], h.Capacity)
	copy(dst[20:36], h.Region[:])
	return nil
}

func decodeLogHeader(src []byte) (*logHeader, error) {
	if len(src) < logHeaderSize {
		return nil, fmt.Errorf("dthreads: log header decode: buffer too small (%d < %d)", len(src), logHeaderSize)
	}
	if !bytes.Equal(src[0:4], logMagic[:]) {
		return nil, fmt.Errorf("dthreads: log header decode: %w (got %q)", ErrBadLogMagic, src[0:4])
	}
	h := &logHeader{}
	h.FormatVersion = binary.LittleEndian.Uint32(src[4:8])
	if h.FormatVersion != logFormatVersion {
		return nil, fmt.Errorf("dthreads: log header decode: unsupported format version %d", h.FormatVersion)
	}
	h.RecordSize = binary.LittleEndian.Uint32(src[8:12])
	h.Capacity = binary.LittleEndian.Uint64(src[12:20])
	copy(h.Region[:], src[20:36])
	return h, nil
}
