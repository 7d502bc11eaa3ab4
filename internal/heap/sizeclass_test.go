package heap

import "testing"

func TestClassForExactFit(t *testing.T) {
	table := newSizeClassTable()
	idx, ok := table.classFor(64, 1)
	if !ok {
		t.Fatalf("expected a class for 64 bytes")
	}
	if got := table.class(idx).Size; got != 64 {
		t.Fatalf("class size = %d, want 64", got)
	}
}

func TestClassForRoundsUp(t *testing.T) {
	table := newSizeClassTable()
	idx, ok := table.classFor(40, 1)
	if !ok {
		t.Fatalf("expected a class for 40 bytes")
	}
	if got := table.class(idx).Size; got != 48 {
		t.Fatalf("class size = %d, want 48", got)
	}
}

func TestClassForHonorsAlignment(t *testing.T) {
	table := newSizeClassTable()
	// 24-byte class has 8-byte alignment; a 16-byte-aligned request for 24
	// bytes must walk forward to a class whose alignment column qualifies.
	idx, ok := table.classFor(24, 16)
	if !ok {
		t.Fatalf("expected a qualifying class")
	}
	c := table.class(idx)
	if c.Align < 16 {
		t.Fatalf("class align = %d, want >= 16", c.Align)
	}
	if c.Size < 24 {
		t.Fatalf("class size = %d, want >= 24", c.Size)
	}
}

func TestClassForTooLargeFails(t *testing.T) {
	table := newSizeClassTable()
	_, ok := table.classFor(1<<20, 1)
	if ok {
		t.Fatalf("expected no class for a 1 MiB request")
	}
}

func TestSizeClassTableBounded(t *testing.T) {
	table := newSizeClassTable()
	if table.count() > MaxSizeClasses {
		t.Fatalf("size class table has %d entries, want <= %d", table.count(), MaxSizeClasses)
	}
	prev := uint32(0)
	for i := 0; i < table.count(); i++ {
		c := table.class(i)
		if c.Size <= prev {
			t.Fatalf("size classes not strictly increasing at index %d", i)
		}
		prev = c.Size
	}
}
