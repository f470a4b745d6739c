package trap

import (
	"errors"
	"testing"
)

func TestGuardReturnsNilWhenFnDoesNotFault(t *testing.T) {
	called := false
	err := Guard(0, false, func(addr uintptr, isWrite bool, pc uintptr) error {
		called = true
		return nil
	}, func() {})
	if err != nil {
		t.Fatalf("Guard err = %v, want nil", err)
	}
	if called {
		t.Fatal("onFault should not be called when fn does not panic")
	}
}

func TestGuardInvokesOnFaultOnErrorPanic(t *testing.T) {
	wantErr := errors.New("boom")
	var gotAddr uintptr
	var gotWrite bool

	err := Guard(0xdead, true, func(addr uintptr, isWrite bool, pc uintptr) error {
		gotAddr = addr
		gotWrite = isWrite
		return wantErr
	}, func() {
		panic(wantErr)
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("Guard err = %v, want %v", err, wantErr)
	}
	if gotAddr != 0xdead || !gotWrite {
		t.Fatalf("onFault got addr=%#x write=%v, want addr=0xdead write=true", gotAddr, gotWrite)
	}
}

func TestGuardRepanicsOnNonErrorPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Guard to re-panic on a non-error panic value")
		}
	}()
	_ = Guard(0, false, func(uintptr, bool, uintptr) error { return nil }, func() {
		panic("not an error")
	})
}
