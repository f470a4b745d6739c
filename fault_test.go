package dthreads

import "testing"

func TestHandleAccessReadThenWrite(t *testing.T) {
	r := newTestRegion(t, PageSize)
	if err := r.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := r.HandleAccess(r.Base(), false, 0); err != nil {
		t.Fatalf("HandleAccess read: %v", err)
	}
	r.mu.Lock()
	state := r.access[0]
	r.mu.Unlock()
	if state != AccessRead {
		t.Fatalf("state after read = %v, want AccessRead", state)
	}

	if err := r.HandleAccess(r.Base(), true, 0); err != nil {
		t.Fatalf("HandleAccess write: %v", err)
	}
	r.mu.Lock()
	state = r.access[0]
	r.mu.Unlock()
	if state != AccessReadWrite {
		t.Fatalf("state after write = %v, want AccessReadWrite", state)
	}
	if !r.owned.contains(0) {
		t.Fatal("expected page 0 to be registered as owned after a write fault")
	}

	if err := r.Nop(); err != nil {
		t.Fatalf("Nop: %v", err)
	}
}

func TestHandleAccessOutOfRange(t *testing.T) {
	r := newTestRegion(t, PageSize)
	if err := r.HandleAccess(r.Base()+uintptr(r.Size()), false, 0); err != ErrOutOfBounds {
		t.Fatalf("err = %v, want ErrOutOfBounds", err)
	}
}
