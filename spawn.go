package dthreads

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// fdSource is satisfied by the default TwinBitmap (bitmap.Arena); a
// custom TwinBitmap that doesn't expose a backing fd simply can't be
// shared across an exec boundary, so Spawn reports that plainly rather
// than silently falling back to something unsound.
type fdSource interface {
	Fd() uintptr
}

const (
	envRegionID      = "DTHREADS_REGION_ID"
	envRegionSize    = "DTHREADS_REGION_SIZE"
	envRegionKind    = "DTHREADS_REGION_KIND"
	envRegionAddr    = "DTHREADS_REGION_ADDR" // only meaningful for Global regions
	envTwinSlots     = "DTHREADS_TWIN_SLOTS"
	envReserveVA     = "DTHREADS_RESERVE_VA"
	extraFileBacking = 0
	extraFileOwnership = 1
	extraFileTwins   = 2
	extraFileMailbox = 3
)

// Spawn launches name as a cooperating process sharing this region:
// the backing, ownership, twin-arena and mailbox memfds are passed
// across exec via cmd.ExtraFiles (anonymous MAP_SHARED memory doesn't
// survive exec on its own — see mmap_unix.go), and the region's
// identity/size/kind are passed via environment variables so the child
// can reconstruct an equivalent Region with JoinEnv instead of New.
//
// This is the Go-native replacement for the original's reliance on
// fork() to hand cooperating "threads" the same anonymous mappings; see
// SPEC_FULL.md §8.
func (r *Region) Spawn(name string, args ...string) (*exec.Cmd, error) {
	twinFd, ok := r.twins.(fdSource)
	if !ok {
		return nil, fmt.Errorf("dthreads: spawn: TwinBitmap %T does not expose a backing fd", r.twins)
	}

	cmd := exec.Command(name, args...)
	cmd.ExtraFiles = []*os.File{
		r.backing,
		r.ownershipF,
		os.NewFile(twinFd.Fd(), "dthreads-twins"),
		os.NewFile(r.mailbox.Fd(), "dthreads-mailbox"),
	}
	cmd.Env = append(os.Environ(),
		envRegionID+"="+r.id.String(),
		envRegionSize+"="+strconv.Itoa(r.size),
		envRegionKind+"="+r.kind.String(),
		envTwinSlots+"="+strconv.Itoa(slotCounter(r.twins)),
		envReserveVA+"="+strconv.Itoa(r.reserveSize),
	)
	if r.kind == Global {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", envRegionAddr, r.transientBase))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd, nil
}

type slotCounted interface {
	SlotCount() int
}

func slotCounter(t TwinBitmap) int {
	if sc, ok := t.(slotCounted); ok {
		return sc.SlotCount()
	}
	return 0
}

// JoinEnv reconstructs a Region from environment variables and
// inherited file descriptors set up by a parent's call to Spawn. Fds 3
// through 6 (the first four inherited beyond stdio) correspond to
// backing, ownership, twins and mailbox in that order.
func JoinEnv() (*Region, error) {
	id, err := uuid.Parse(os.Getenv(envRegionID))
	if err != nil {
		return nil, fmt.Errorf("dthreads: joinenv: %s: %w", envRegionID, err)
	}
	size, err := strconv.Atoi(os.Getenv(envRegionSize))
	if err != nil {
		return nil, fmt.Errorf("dthreads: joinenv: %s: %w", envRegionSize, err)
	}
	reserveSize, err := strconv.Atoi(os.Getenv(envReserveVA))
	if err != nil {
		return nil, fmt.Errorf("dthreads: joinenv: %s: %w", envReserveVA, err)
	}
	slots, _ := strconv.Atoi(os.Getenv(envTwinSlots))
	kind := Heap
	if strings.EqualFold(os.Getenv(envRegionKind), "global") {
		kind = Global
	}

	backing := os.NewFile(uintptr(3+extraFileBacking), "dthreads-backing")
	ownershipFile := os.NewFile(uintptr(3+extraFileOwnership), "dthreads-ownership")
	twinsFile := os.NewFile(uintptr(3+extraFileTwins), "dthreads-twins")
	mailboxFile := os.NewFile(uintptr(3+extraFileMailbox), "dthreads-mailbox")

	totalPages := size / PageSize
	table, err := openOwnershipTable(ownershipFile, totalPages)
	if err != nil {
		return nil, err
	}
	mb, err := openMailbox(mailboxFile)
	if err != nil {
		return nil, err
	}
	twins, err := openDefaultTwinBitmap(twinsFile, slots)
	if err != nil {
		return nil, err
	}

	r := &Region{
		id:          id,
		kind:        kind,
		backing:     backing,
		ownershipF:  ownershipFile,
		reserveSize: reserveSize,
		size:        size,
		totalPages:  totalPages,
		ownership:   table,
		twins:       twins,
		arena:       newSlabArena(),
		dirty:       newDirtyList(),
		owned:       newOwnedBlockRegistry(MaxOwnedBlocks()),
		mailbox:     mb,
		logger:      NopLogger{},
		access:      make([]AccessState, totalPages),
		pid:         uint32(os.Getpid()),
	}

	persistentBase, err := reserveVA(r.reserveSize)
	if err != nil {
		return nil, err
	}
	r.persistentBase = persistentBase
	if err := mmapFixedFunc(r.persistentBase, size, backing, unixProtRW(), true); err != nil {
		return nil, fmt.Errorf("dthreads: joinenv: map persistent view: %w", err)
	}

	var transientBase uintptr
	if kind == Global {
		addr, err := strconv.ParseUint(os.Getenv(envRegionAddr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dthreads: joinenv: %s: %w", envRegionAddr, err)
		}
		transientBase = uintptr(addr)
	} else {
		transientBase, err = reserveVA(r.reserveSize)
		if err != nil {
			return nil, err
		}
	}
	r.transientBase = transientBase
	if err := mmapFixedFunc(r.transientBase, size, backing, unixProtRW(), true); err != nil {
		return nil, fmt.Errorf("dthreads: joinenv: map transient view: %w", err)
	}

	return r, nil
}
