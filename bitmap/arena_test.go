package bitmap

import "testing"

func newTestArena(t *testing.T, slots int) *Arena {
	t.Helper()
	a, err := NewArena(slots, 4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArenaAllocNeverReturnsReservedSlotZero(t *testing.T) {
	a := newTestArena(t, 8)
	for i := 0; i < 7; i++ {
		id, err := a.Alloc()
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if id == 0 {
			t.Fatal("Alloc returned reserved slot 0")
		}
	}
}

func TestArenaAllocExhaustion(t *testing.T) {
	a := newTestArena(t, 4) // 3 usable slots (0 reserved)
	seen := make(map[uint32]bool)
	for i := 0; i < 3; i++ {
		id, err := a.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("Alloc returned duplicate id %d", id)
		}
		seen[id] = true
	}
	if _, err := a.Alloc(); err == nil {
		t.Fatal("expected Alloc to fail once the arena is exhausted")
	}
}

func TestArenaFreeAllowsReuse(t *testing.T) {
	a := newTestArena(t, 4)
	id, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	a.Free(id)
	id2, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if id2 != id {
		t.Fatalf("expected freed slot %d to be reused, got %d", id, id2)
	}
}

func TestArenaVersionRoundTrip(t *testing.T) {
	a := newTestArena(t, 4)
	id, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	a.SetVersion(id, 42)
	if v := a.Version(id); v != 42 {
		t.Fatalf("Version = %d, want 42", v)
	}
}

func TestArenaAddressIsPageSized(t *testing.T) {
	a := newTestArena(t, 4)
	id1, _ := a.Alloc()
	id2, _ := a.Alloc()
	p1 := a.Address(id1)
	p2 := a.Address(id2)
	if p1 == p2 {
		t.Fatal("expected distinct slots to have distinct addresses")
	}
}
