package dthreads

import "runtime"

// callerPC returns the return address of the instrumented accessor's
// caller, for Event.PC. The real SIGSEGV trap path (trap package) has
// an actual faulting PC to log; this is the best a Go call stack can
// offer for the instrumented calling convention.
func callerPC() uintptr {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return 0
	}
	return pc
}
