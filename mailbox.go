package dthreads

import (
	"os"
	"sync/atomic"
	"unsafe"
)

// mailboxCapacity bounds how many outstanding recall requests can be
// posted at once. Sized generously; Post degrades to "caller should
// retry" rather than blocking when full.
const mailboxCapacity = 4096

// mailbox is the shared substitute for the original's sigqueue(2)
// payload: Linux's rt_sigqueueinfo lets a real signal carry an integer,
// but the Go runtime's os/signal.Notify only ever tells you a signal
// number arrived, never the payload it was sent with, and there is no
// portable wrapper for the raw syscall in the ecosystem this module
// draws from. A CAS-inserted, open-addressed {pid, pageNo} table in
// shared memory carries the "which page do you need to commit" payload
// instead; the SIGUSR1 itself only means "go check your mailbox".
//
// This is a genuine improvement over a literal sigqueue port: multiple
// pending recalls for the same page collapse into one entry (see Post),
// so a slow owner only has to notice once.
//
// Grounded in xpersist::notifyOwnerToCommit's raw kill(2)+payload
// design (src/include/xpersist.h), adapted per SPEC_FULL.md §4.6.
type mailbox struct {
	file *os.File
	base uintptr

	pid  []atomic.Uint32
	page []atomic.Uint32
}

func newMailbox() (*mailbox, error) {
	total := mailboxCapacity * 8
	f, err := createShared("dthreads-mailbox", total)
	if err != nil {
		return nil, err
	}
	base, err := mapSharedFile(f, total, unixProtRW())
	if err != nil {
		f.Close()
		return nil, err
	}
	return mailboxFromBase(f, base), nil
}

func openMailbox(f *os.File) (*mailbox, error) {
	total := mailboxCapacity * 8
	base, err := mapSharedFile(f, total, unixProtRW())
	if err != nil {
		return nil, err
	}
	return mailboxFromBase(f, base), nil
}

func mailboxFromBase(f *os.File, base uintptr) *mailbox {
	m := &mailbox{file: f, base: base}
	m.pid = unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(base)), mailboxCapacity)
	m.page = unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(base+uintptr(mailboxCapacity*4))), mailboxCapacity)
	return m
}

func hashPidPage(pid, pageNo uint32) uint32 {
	h := pid*2654435761 ^ pageNo*40503
	return h
}

// Post records that pid needs to commit pageNo. Returns false if the
// table is full; the caller (coordinator.go) falls back to its
// spin-and-resend loop rather than blocking here.
func (m *mailbox) Post(pid uint32, pageNo int) bool {
	start := hashPidPage(pid, uint32(pageNo)) % mailboxCapacity
	for i := uint32(0); i < mailboxCapacity; i++ {
		slot := (start + i) % mailboxCapacity
		if m.pid[slot].CompareAndSwap(0, pid) {
			m.page[slot].Store(uint32(pageNo))
			return true
		}
		if m.pid[slot].Load() == pid && m.page[slot].Load() == uint32(pageNo) {
			return true // already pending, coalesce
		}
	}
	return false
}

// Drain removes and returns every page number currently addressed to
// pid. Called from the SIGUSR1 handler goroutine in coordinator.go.
func (m *mailbox) Drain(pid uint32) []int {
	var pages []int
	for slot := 0; slot < mailboxCapacity; slot++ {
		if m.pid[slot].Load() != pid {
			continue
		}
		pn := m.page[slot].Load()
		if m.pid[slot].CompareAndSwap(pid, 0) {
			pages = append(pages, int(pn))
		}
	}
	return pages
}

// Fd exposes the backing memfd for Spawn to inherit across exec.
func (m *mailbox) Fd() uintptr { return m.file.Fd() }

func (m *mailbox) close() error {
	if err := munmapAt(m.base, mailboxCapacity*8); err != nil {
		return err
	}
	return m.file.Close()
}
