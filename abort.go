package dthreads

import (
	"fmt"
	"os"
)

// abortFunc is called for failures that leave a Region's protection
// state genuinely inconsistent — an mprotect/mmap call that fails after
// the region is already established, unlike a failure during New, which
// is still recoverable by the caller since nothing has been handed out
// yet. Overridable in tests the same way mmapFixedFunc/madviseFunc are,
// so the abort path itself is exercised without actually exiting the
// test binary.
var abortFunc = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dthreads: fatal: "+format+"\n", args...)
	os.Exit(2)
}
