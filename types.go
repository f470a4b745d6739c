package dthreads

import "fmt"

// AccessState is the per-process protection state of a page, distinct
// from the shared owner/version/users fields: every process keeps its
// own view since the same page can be PROT_NONE in one process and
// PROT_READ_WRITE in another at the same instant.
type AccessState uint8

const (
	// AccessNone means no access to the page has been classified since
	// the last Begin (or since SetOwnedPage claimed it, which also maps
	// it PROT_NONE locally).
	AccessNone AccessState = iota
	// AccessRead means the page has been faulted for reading and is
	// mapped PROT_READ locally.
	AccessRead
	// AccessReadWrite means the page has been faulted for writing and is
	// mapped PROT_READ|PROT_WRITE locally; it is on the dirty list.
	AccessReadWrite
	// AccessUnused marks a page owned exclusively by some other process;
	// any local access must first recall it through the Coordinator.
	AccessUnused
)

func (a AccessState) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessRead:
		return "read"
	case AccessReadWrite:
		return "read_write"
	case AccessUnused:
		return "unused"
	default:
		return fmt.Sprintf("access_state(%d)", uint8(a))
	}
}

// EventKind classifies an access event handed to the Logger.
type EventKind uint8

const (
	// EventRead marks a read fault.
	EventRead EventKind = iota
	// EventWrite marks a write fault.
	EventWrite
)

func (k EventKind) String() string {
	if k == EventWrite {
		return "write"
	}
	return "read"
}

// Event is the record a Fault Handler emits for every classified access,
// after the page's state transition; an access that fails emits none.
// Mirrors the original xlogger's
// logevent, with Page already reduced to a page number rather than a
// raw address so the log never leaks process-local VA layout.
type Event struct {
	Kind   EventKind
	PC     uintptr
	Page   uint64
	Region [16]byte // Region.ID(), copied so events outlive the Region
}

// Logger is the consumed append-only event sink. Implementations must
// be safe to call from the fault path: non-blocking and allocation-light.
type Logger interface {
	Add(Event)
}

// NopLogger discards every event; the zero value is ready to use.
type NopLogger struct{}

// Add implements Logger.
func (NopLogger) Add(Event) {}
