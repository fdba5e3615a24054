package relay

import (
	"errors"
	"testing"
)

func TestTableReserveLowestIndexFirst(t *testing.T) {
	tbl := NewTable(3)
	for want := 0; want < 3; want++ {
		s, err := tbl.Reserve()
		if err != nil {
			t.Fatalf("Reserve %d failed: %v", want, err)
		}
		if s.index != want {
			t.Errorf("Reserve returned slot %d, want %d", s.index, want)
		}
	}
}

func TestTableFull(t *testing.T) {
	tbl := NewTable(2)
	a, _ := tbl.Reserve()
	if _, err := tbl.Reserve(); err != nil {
		t.Fatalf("second Reserve failed: %v", err)
	}
	if _, err := tbl.Reserve(); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
	tbl.Release(a)
	s, err := tbl.Reserve()
	if err != nil {
		t.Fatalf("Reserve after Release failed: %v", err)
	}
	if s.index != a.index {
		t.Errorf("expected freed slot %d to be reused, got %d", a.index, s.index)
	}
	if _, err := tbl.Reserve(); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull after refill, got %v", err)
	}
}

func TestTableReleaseIdempotent(t *testing.T) {
	tbl := NewTable(1)
	s, err := tbl.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	tbl.Release(s)
	tbl.Release(s) // no-op, must not panic or corrupt state
	if got := tbl.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
	if _, err := tbl.Reserve(); err != nil {
		t.Errorf("Reserve after double Release failed: %v", err)
	}
}

func TestTableForEachActiveReleasesLock(t *testing.T) {
	tbl := NewTable(4)
	if _, err := tbl.Reserve(); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Reserve(); err != nil {
		t.Fatal(err)
	}
	seen := 0
	tbl.ForEachActive(func(s *Slot) {
		seen++
		// Must not deadlock: fn runs outside the table mutex.
		tbl.Release(s)
	})
	if seen != 2 {
		t.Errorf("visited %d active slots, want 2", seen)
	}
	if got := tbl.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}
