//go:build linux

package dthreads

import (
	"os"

	"github.com/Mic92/dthreads/internal/shm"
)

// functions can be overridden for testing, following the teacher's
// mmap_unix.go seam pattern (mmapFixedFunc/madviseFunc in the original
// mmap_unix.go).
var mmapFixedFunc = shm.MapFixed
var madviseFunc = shm.Madvise

// createShared creates an unlinked, RAM-backed file of size n. Grounded
// in the original's mkstemp+ftruncate+unlink sequence for the backing
// and versions files, but uses memfd_create instead of a real tmpfs
// path.
//
// The substitution matters: the original relies on fork() to hand the
// backing fd to every cooperating "thread", and an anonymous MAP_SHARED
// mapping survives fork() for free. Cooperating processes in this
// package are spawned with os/exec (see spawn.go), not fork, and
// anonymous mappings do not survive exec — only file descriptors do,
// via (*exec.Cmd).ExtraFiles. memfd_create gives us a file that is
// unlinked from the moment it is born (so it still "survives as an open
// fd" exactly as spec.md describes) while remaining a real fd Spawn can
// pass down to a child.
func createShared(name string, n int) (*os.File, error) {
	return shm.Create(name, n)
}

func reserveVA(n int) (uintptr, error) {
	return shm.Reserve(n)
}

func mapSharedFile(f *os.File, n int, prot int) (uintptr, error) {
	return shm.MapShared(f, n, prot)
}

func munmapAt(addr uintptr, length int) error {
	return shm.Unmap(addr, length)
}

func mprotectAt(addr uintptr, length int, prot int) error {
	return shm.Mprotect(addr, length, prot)
}

func msyncAt(addr uintptr, length int) error {
	return shm.Msync(addr, length)
}

func sliceAt(addr uintptr, n int) []byte {
	return shm.Slice(addr, n)
}

func unixProtRW() int   { return shm.ProtRead | shm.ProtWrite }
func unixProtRead() int { return shm.ProtRead }
func unixProtNone() int { return shm.ProtNone }
