package dthreads

import "testing"

func newTestOwnershipTable(t *testing.T, pages int) *OwnershipTable {
	t.Helper()
	f, table, err := newOwnershipTable(pages)
	if err != nil {
		t.Fatalf("newOwnershipTable: %v", err)
	}
	t.Cleanup(func() {
		table.close()
		_ = f
	})
	return table
}

func TestOwnershipClaimAndRelease(t *testing.T) {
	table := newTestOwnershipTable(t, 8)

	if !table.ClaimOwner(0, 42) {
		t.Fatal("expected first claim to succeed")
	}
	if table.ClaimOwner(0, 43) {
		t.Fatal("expected second claim by a different pid to fail")
	}
	if table.Owner(0) != 42 {
		t.Fatalf("Owner(0) = %d, want 42", table.Owner(0))
	}

	table.Release(0, 43) // wrong pid, no-op
	if table.Owner(0) != 42 {
		t.Fatal("Release by the wrong pid should not clear ownership")
	}
	table.Release(0, 42)
	if table.Owner(0) != Unclaimed {
		t.Fatal("Release by the owning pid should clear ownership")
	}
}

func TestOwnershipSharedIsIdempotent(t *testing.T) {
	table := newTestOwnershipTable(t, 1)
	table.SetShared(0)
	table.SetShared(0)
	if !table.IsShared(0) {
		t.Fatal("expected page to be shared")
	}
}

func TestOwnershipVersionAndUsers(t *testing.T) {
	table := newTestOwnershipTable(t, 1)
	if v := table.BumpVersion(0); v != 1 {
		t.Fatalf("BumpVersion = %d, want 1", v)
	}
	if v := table.Version(0); v != 1 {
		t.Fatalf("Version = %d, want 1", v)
	}
	table.AddUser(0)
	table.AddUser(0)
	if table.Users(0) != 2 {
		t.Fatalf("Users = %d, want 2", table.Users(0))
	}
	table.RemoveUser(0)
	if table.Users(0) != 1 {
		t.Fatalf("Users = %d, want 1", table.Users(0))
	}
}

func TestOwnershipTwinSlot(t *testing.T) {
	table := newTestOwnershipTable(t, 1)
	if table.TwinSlot(0) != 0 {
		t.Fatal("expected no twin slot initially")
	}
	table.SetTwinSlot(0, 7)
	if table.TwinSlot(0) != 7 {
		t.Fatalf("TwinSlot = %d, want 7", table.TwinSlot(0))
	}
	table.ClearTwinSlot(0)
	if table.TwinSlot(0) != 0 {
		t.Fatal("expected twin slot cleared")
	}
}
