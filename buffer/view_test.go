package buffer

import (
	"testing"
)

func TestBorrow_ViewDoesNotFree(t *testing.T) {
	mem, alloc := newArena(t)
	s := mustFromBytes(t, mem, alloc, []byte("aliased"))

	view := s.Borrow().Get()
	if view.Ptr() != s.Ptr() || view.Len() != s.Len() {
		t.Fatal("view is not a structural copy")
	}

	got, err := view.Bytes()
	if err != nil {
		t.Fatalf("Bytes through view: %v", err)
	}
	if string(got) != "aliased" {
		t.Errorf("view content = %q", got)
	}

	view.Free()
	if alloc.LiveCount() != 1 {
		t.Error("freeing a view released the owned allocation")
	}

	// the original still owns and frees exactly once
	s.Free()
	if alloc.LiveCount() != 0 || alloc.MismatchCount() != 0 {
		t.Errorf("live=%d mismatched=%d", alloc.LiveCount(), alloc.MismatchCount())
	}
}

func TestBorrow_ViewCannotBeConsumed(t *testing.T) {
	mem, alloc := newArena(t)
	s := mustFromBytes(t, mem, alloc, []byte("keep"))

	view := s.Borrow().Get()
	if _, err := view.IntoBytes(); err == nil {
		t.Error("IntoBytes on a view should fail")
	}
	if _, _, err := view.Release(); err == nil {
		t.Error("Release on a view should fail")
	}

	// the original is untouched by the rejected operations
	got, err := s.Bytes()
	if err != nil || string(got) != "keep" {
		t.Errorf("original = %q, %v", got, err)
	}
}
