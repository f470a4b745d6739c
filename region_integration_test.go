package dthreads

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// envWorkerMode flags a re-invocation of this test binary as a
// cooperating worker process rather than the top-level test runner.
// Real cross-process ownership contention can't be exercised within a
// single process, so the multi-process property tests here re-exec the
// test binary itself as a worker, the way the teacher's test harness
// injects a function pointer to swap in fake behavior — extended to
// process injection since there's no in-process substitute for a
// second address space.
const envWorkerMode = "DTHREADS_TEST_WORKER_MODE"

// envWorkerIndex tells an increment worker which 8-byte counter on
// page 0 is its own.
const envWorkerIndex = "DTHREADS_TEST_WORKER_INDEX"

func TestMain(m *testing.M) {
	if os.Getenv(envWorkerMode) == "increment" {
		os.Exit(runIncrementWorker())
	}
	os.Exit(m.Run())
}

func runIncrementWorker() int {
	// A worker never calls Close: the coordinator process owns the shared
	// backing/ownership/mailbox/twin resources and tears them down itself.
	idx, err := strconv.Atoi(os.Getenv(envWorkerIndex))
	if err != nil {
		return 1
	}
	off := uint32(idx * 8)

	r, err := JoinEnv()
	if err != nil {
		return 1
	}

	if err := r.Begin(); err != nil {
		return 1
	}
	v, err := r.ReadUint64(off)
	if err != nil {
		return 1
	}
	if err := r.WriteUint64(off, v+1); err != nil {
		return 1
	}
	if err := r.Commit(); err != nil {
		return 1
	}
	return 0
}

func TestMultiProcessCommitsMergeDisjointCounters(t *testing.T) {
	const workers = 5

	r, err := New(PageSize)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Begin())
	require.NoError(t, r.WriteUint64(0, 0))
	require.NoError(t, r.Commit())

	exe, err := os.Executable()
	require.NoError(t, err)

	procs := make([]*os.Process, 0, workers)
	for i := 0; i < workers; i++ {
		cmd, err := r.Spawn(exe, "-test.run=TestMain")
		require.NoError(t, err)
		cmd.Env = append(cmd.Env, envWorkerMode+"=increment", envWorkerIndex+"="+strconv.Itoa(i))
		require.NoError(t, cmd.Start())
		procs = append(procs, cmd.Process)
	}
	for i, p := range procs {
		state, err := p.Wait()
		require.NoErrorf(t, err, "worker %d", i)
		require.Truef(t, state.Success(), "worker %d exited with %v", i, state)
	}

	require.NoError(t, r.FinalCommit(context.Background()))

	for i := 0; i < workers; i++ {
		got, err := r.ReadUint64(uint32(i * 8))
		require.NoError(t, err)
		require.Equalf(t, uint64(1), got, "worker %d's disjoint counter must survive the merge", i)
	}
}

func TestMultiProcessRecallThroughMailbox(t *testing.T) {
	r, err := New(PageSize)
	require.NoError(t, err)
	defer r.Close()

	stop := r.ServeSignals(context.Background())
	defer stop()

	// Simulate another pid holding the page. fakeOwner is not a running
	// process, so NotifyOwnerToCommit returns either once its SIGUSR1
	// fails and it promotes the page itself, or once it observes the
	// version bump and release below, whichever comes first.
	const fakeOwner = uint32(1 << 30)
	require.True(t, r.ownership.ClaimOwner(0, fakeOwner))

	done := make(chan error, 1)
	go func() {
		done <- r.NotifyOwnerToCommit(context.Background(), fakeOwner, 0)
	}()

	// Release ownership directly (standing in for the other process's own
	// commit, which is what a real recall would trigger).
	r.ownership.BumpVersion(0)
	r.ownership.Release(0, fakeOwner)

	require.NoError(t, <-done)
}
