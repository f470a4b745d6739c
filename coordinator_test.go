package dthreads

import (
	"context"
	"testing"
	"time"
)

func TestNotifyOwnerToCommitReturnsWhenUnclaimed(t *testing.T) {
	r := newTestRegion(t, PageSize)
	// Page 0 is unclaimed, so pid 99999 is not its owner: the owner
	// check must see this immediately rather than spin until ctx expires.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := r.NotifyOwnerToCommit(ctx, 99999, 0); err != nil {
		t.Fatalf("NotifyOwnerToCommit: %v", err)
	}
}

func TestForceCommitOwnedPagesSkipsOwnPid(t *testing.T) {
	r := newTestRegion(t, PageSize)
	r.ownership.ClaimOwner(0, r.pid)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := r.ForceCommitOwnedPages(ctx); err != nil {
		t.Fatalf("ForceCommitOwnedPages: %v", err)
	}
	// Page is still owned by this process; ForceCommitOwnedPages must not
	// have tried to recall it from itself.
	if r.ownership.Owner(0) != r.pid {
		t.Fatalf("Owner(0) = %d, want still %d (self-owned pages are skipped)", r.ownership.Owner(0), r.pid)
	}
}

func TestServeSignalsStopIsIdempotentSafe(t *testing.T) {
	r := newTestRegion(t, PageSize)
	ctx, cancel := context.WithCancel(context.Background())
	stop := r.ServeSignals(ctx)
	cancel()
	stop()
}
