// Package trap is the optional raw-fault calling convention described
// in SPEC_FULL.md §4.3: installing a real SIGSEGV handler onto a
// Region's fault classifier is explicitly out of scope (spec.md's
// Non-goals put page-fault trapping "outside the core"), but a caller
// that wants to try anyway can use Guard as a starting point.
//
// Grounded in joshuapare-hivekit's hive/mmap_safety.go, which converts
// a fault on mmap'd memory into a recoverable Go panic via
// runtime/debug.SetPanicOnFault instead of crashing the process.
package trap

import (
	"errors"
	"runtime"
	"runtime/debug"
)

// ErrNoFaultInfo names the limitation of faults recovered through
// SetPanicOnFault: Go's recovered fault value carries no faulting
// address and no read/write bit. Nothing in this package returns it.
// Guard works around the limitation by requiring the
// caller to already know the address and access kind it's about to
// touch, which means Guard is only useful wrapping code whose access
// pattern is known in advance, not as a general-purpose fault handler.
var ErrNoFaultInfo = errors.New("trap: recovered fault carries no address or access-kind information in pure Go")

// AccessFunc mirrors Region.HandleAccess's signature so Guard can be
// wired directly to it.
type AccessFunc func(addr uintptr, isWrite bool, pc uintptr) error

// Guard runs fn with SetPanicOnFault enabled. If fn faults, the fault
// is recovered and classified by calling onFault(addr, isWrite, pc) —
// addr and isWrite must be supplied by the caller, since a recovered
// Go fault carries neither. On success onFault returns, Guard returns
// nil; the caller is responsible for retrying whatever fn was trying
// to do, exactly as the original relies on the kernel re-executing the
// faulting instruction after mprotect widens permissions.
func Guard(addr uintptr, isWrite bool, onFault AccessFunc, fn func()) (err error) {
	debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(false)
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(error); !ok {
				panic(rec)
			}
			pc, _, _, _ := runtime.Caller(3)
			err = onFault(addr, isWrite, pc)
		}
	}()
	fn()
	return nil
}
