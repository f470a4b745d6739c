package dthreads

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// recallResendInterval bounds how long NotifyOwnerToCommit waits before
// re-posting and re-signaling an owner that hasn't responded yet —
// covers the case where the SIGUSR1 arrived before the owner had
// registered its handler, or was coalesced by the kernel with another
// pending standard signal.
const recallResendInterval = 2 * time.Millisecond

// ServeSignals starts a goroutine that answers recall requests posted
// to this region's mailbox: SIGUSR1 means "check your mailbox", and the
// mailbox itself (mailbox.go) carries which pages to commit. Call the
// returned stop function to shut the goroutine down.
//
// Ported from the original's asynchronous signal handler, adapted to
// Go's os/signal.Notify model: Go delivers signals to a channel from a
// dedicated runtime goroutine rather than interrupting the faulting
// thread directly, which is why Region.access is mutex-guarded rather
// than assumed single-threaded-per-process.
func (r *Region) ServeSignals(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				return
			case <-quit:
				return
			case <-ch:
				r.serviceMailbox()
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(quit)
		<-done
	}
}

func (r *Region) serviceMailbox() {
	for _, pageNo := range r.mailbox.Drain(r.pid) {
		if r.owned.contains(pageNo) {
			_ = r.updatePage(pageNo)
			r.owned.remove(pageNo)
		}
	}
}

// NotifyOwnerToCommit asks ownerPid to publish pageNo, spin-waiting with
// periodic resends until the page's version advances past its value at
// call time or ownerPid no longer holds it. If the SIGUSR1 cannot be
// delivered (ownerPid is gone), the page is promoted to SharedPage here
// and the in-flight edits of that owner are lost.
//
// Ported from xpersist::notifyOwnerToCommit.
func (r *Region) NotifyOwnerToCommit(ctx context.Context, ownerPid uint32, pageNo int) error {
	sinceVersion := r.ownership.Version(pageNo)

	post := func() {
		if r.mailbox.Post(ownerPid, pageNo) {
			if err := unix.Kill(int(ownerPid), unix.Signal(syscall.SIGUSR1)); err != nil {
				r.ownership.SetShared(pageNo)
			}
		}
	}
	post()

	resend := time.NewTicker(recallResendInterval)
	defer resend.Stop()
	for {
		if r.ownership.Owner(pageNo) != ownerPid || r.ownership.Version(pageNo) != sinceVersion {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resend.C:
			post()
		}
	}
}

// ForceCommitOwnedPages recalls every page currently owned by some
// other process, used before a barrier or Close so no process's edits
// are left stranded in its private view.
//
// Each owner entry is read with an atomic load, but the scan as a whole
// is not a snapshot: at worst it misses a page that became owned
// moments ago (picked up on the next call) or targets a pid that
// already released it, in which case NotifyOwnerToCommit returns
// immediately.
func (r *Region) ForceCommitOwnedPages(ctx context.Context) error {
	for pageNo := 0; pageNo < r.totalPages; pageNo++ {
		owner := r.ownership.Owner(pageNo)
		if owner == Unclaimed || owner == SharedPage || owner == r.pid {
			continue
		}
		if err := r.NotifyOwnerToCommit(ctx, owner, pageNo); err != nil {
			return err
		}
	}
	return nil
}

// FinalCommit commits this process's own pages, then waits for every
// other owner to do the same, leaving the persistent view fully caught
// up. Ported from xpersist::finalcommit.
func (r *Region) FinalCommit(ctx context.Context) error {
	if err := r.commitOwnedPages(); err != nil {
		return err
	}
	return r.ForceCommitOwnedPages(ctx)
}
