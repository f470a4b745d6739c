package dthreads

import "testing"

func TestMmapLoggerAddAndRead(t *testing.T) {
	l, err := NewMmapLogger(4)
	if err != nil {
		t.Fatalf("NewMmapLogger: %v", err)
	}
	defer l.Close()

	ev := Event{Kind: EventWrite, PC: 0x1234, Page: 7}
	l.Add(ev)

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	got := l.At(0)
	if got.Kind != EventWrite || got.PC != 0x1234 || got.Page != 7 {
		t.Fatalf("At(0) = %+v, want %+v", got, ev)
	}
}

func TestMmapLoggerGrowsPastInitialCapacity(t *testing.T) {
	l, err := NewMmapLogger(2)
	if err != nil {
		t.Fatalf("NewMmapLogger: %v", err)
	}
	defer l.Close()

	const n = 10
	for i := 0; i < n; i++ {
		l.Add(Event{Kind: EventRead, Page: uint64(i)})
	}
	if l.Len() != n {
		t.Fatalf("Len() = %d, want %d", l.Len(), n)
	}
	for i := 0; i < n; i++ {
		if got := l.At(uint64(i)); got.Page != uint64(i) {
			t.Fatalf("At(%d).Page = %d, want %d", i, got.Page, i)
		}
	}
}
