// Package shm holds the low-level memfd + mmap primitives shared by the
// root dthreads package and the bitmap subpackage, so both can place
// shared structures (the ownership table, the twin arena, the mailbox)
// in cross-process MAP_SHARED memory without duplicating syscall
// plumbing or creating an import cycle between them.
//
// Grounded in the teacher's mmap_unix.go (mmapFixed, pageAlign, the
// reserve-then-MAP_FIXED technique), rebuilt on golang.org/x/sys/unix
// per SPEC_FULL.md §4.1 and extended with memfd_create for the
// exec-survivable anonymous memory described in the root package's
// mmap_unix.go.
package shm

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// File is the shared-memory handle type; os.File already provides Fd()
// and Close(), which is all callers need.
type File = *os.File

// Create returns an unlinked, RAM-backed file of size n bytes.
func Create(name string, n int) (File, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create %s: %w", name, err)
	}
	f := os.NewFile(uintptr(fd), name)
	if err := f.Truncate(int64(n)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: truncate %s to %d: %w", name, n, err)
	}
	return f, nil
}

// MapShared maps the whole of f MAP_SHARED at a kernel-chosen address.
func MapShared(f File, n int, prot int) (uintptr, error) {
	b, err := unix.Mmap(int(f.Fd()), 0, n, prot, unix.MAP_SHARED)
	if err != nil {
		return 0, fmt.Errorf("shm: mmap shared %s: %w", f.Name(), err)
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

// Reserve reserves a contiguous PROT_NONE anonymous VA range.
func Reserve(n int) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, n, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("shm: reserve %d bytes VA: %w", n, err)
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

// MapFixed maps f over [addr, addr+length) with MAP_FIXED, verifying the
// kernel honored the requested address.
func MapFixed(addr uintptr, length int, f File, prot int, shared bool) error {
	flags := unix.MAP_FIXED
	if shared {
		flags |= unix.MAP_SHARED
	} else {
		flags |= unix.MAP_PRIVATE
	}
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length), uintptr(prot), uintptr(flags), f.Fd(), 0)
	if errno != 0 {
		return fmt.Errorf("shm: mmap fixed at %#x: %w", addr, errno)
	}
	if r1 != addr {
		_ = Unmap(r1, length)
		return fmt.Errorf("shm: mmap fixed: expected address %#x, got %#x", addr, r1)
	}
	return nil
}

// Unmap tears down a mapping at addr for length bytes.
func Unmap(addr uintptr, length int) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(length), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Madvise hints to the kernel how a region will be used; ENOSYS is
// swallowed since the hint is advisory.
func Madvise(addr uintptr, length int, advice int) error {
	_, _, errno := unix.Syscall(unix.SYS_MADVISE, addr, uintptr(length), uintptr(advice))
	if errno != 0 && errno != unix.ENOSYS {
		return errno
	}
	return nil
}

// Mprotect changes the protection of an existing mapping in place.
func Mprotect(addr uintptr, length int, prot int) error {
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, addr, uintptr(length), uintptr(prot))
	if errno != 0 {
		return errno
	}
	return nil
}

// Msync flushes dirty pages to the backing store synchronously.
func Msync(addr uintptr, length int) error {
	_, _, errno := unix.Syscall(unix.SYS_MSYNC, addr, uintptr(length), uintptr(unix.MS_SYNC))
	if errno != 0 {
		return errno
	}
	return nil
}

// Slice views the n bytes starting at addr as a []byte.
func Slice(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

const (
	ProtRead  = unix.PROT_READ
	ProtWrite = unix.PROT_WRITE
	ProtNone  = unix.PROT_NONE
)
