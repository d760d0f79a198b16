package stack

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/hostvm/guest-bridge/buffer"
	"github.com/hostvm/guest-bridge/errors"
	"github.com/hostvm/guest-bridge/internal/memtest"
)

func newTestStack(t *testing.T) (*Stack, *memtest.Memory, *memtest.Allocator) {
	t.Helper()
	mem := memtest.NewMemory(1 << 16)
	alloc := memtest.NewAllocator(8)
	return New(mem, alloc), mem, alloc
}

func kindOf(t *testing.T, err error) errors.Kind {
	t.Helper()
	var bridgeErr *errors.Error
	if !stderrors.As(err, &bridgeErr) {
		t.Fatalf("error = %v (%T), want *errors.Error", err, err)
	}
	return bridgeErr.Kind
}

func TestPushPop_Primitives(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, st *Stack)
	}{
		{"nil", func(t *testing.T, st *Stack) {
			mustPush(t, st, Nil{}, 1)
			var v Nil
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
		}},
		{"bool true", func(t *testing.T, st *Stack) {
			mustPush(t, st, Bool(true), 1)
			var v Bool
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if v != true {
				t.Errorf("got %v", v)
			}
		}},
		{"bool false", func(t *testing.T, st *Stack) {
			mustPush(t, st, Bool(false), 1)
			var v Bool
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if v != false {
				t.Errorf("got %v", v)
			}
		}},
		{"int negative", func(t *testing.T, st *Stack) {
			mustPush(t, st, Int(-42), 1)
			var v Int
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if v != -42 {
				t.Errorf("got %d", v)
			}
		}},
		{"int large", func(t *testing.T, st *Stack) {
			mustPush(t, st, Int(1<<62), 1)
			var v Int
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if v != 1<<62 {
				t.Errorf("got %d", v)
			}
		}},
		{"float", func(t *testing.T, st *Stack) {
			mustPush(t, st, Float(3.25), 1)
			var v Float
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if v != 3.25 {
				t.Errorf("got %g", v)
			}
		}},
		{"empty text", func(t *testing.T, st *Stack) {
			mustPush(t, st, Text(""), 1)
			var v Text
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if v != "" {
				t.Errorf("got %q", v)
			}
		}},
		{"ascii text", func(t *testing.T, st *Stack) {
			mustPush(t, st, Text("hello guest"), 1)
			var v Text
			if err := v.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			if v != "hello guest" {
				t.Errorf("got %q", v)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _, alloc := newTestStack(t)
			tt.run(t, st)
			if st.Depth() != 0 {
				t.Errorf("depth = %d after round trip, want 0", st.Depth())
			}
			if alloc.LiveCount() != 0 {
				t.Errorf("%d guest allocations leaked", alloc.LiveCount())
			}
		})
	}
}

func mustPush(t *testing.T, st *Stack, v Pushable, wantSlots int) {
	t.Helper()
	n, err := v.Push(st)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n != wantSlots {
		t.Fatalf("Push produced %d slots, want %d", n, wantSlots)
	}
}

func TestPushPop_RawBytes(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"embedded null", []byte{0x66, 0x6f, 0x6f, 0x00, 0x62, 0x61, 0x72}},
		{"invalid high bytes", []byte{0xff, 0xfe, 0x80, 0x61}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mem, alloc := newTestStack(t)

			gs, err := buffer.FromBytes(mem, alloc, tt.in)
			if err != nil {
				t.Fatalf("FromBytes: %v", err)
			}
			in := &Str{Buf: gs}
			mustPush(t, st, in, 1)

			var out Str
			if err := out.Pop(st); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			got, err := out.Buf.Bytes()
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			if !bytes.Equal(got, tt.in) {
				t.Errorf("round trip = %q, want %q", got, tt.in)
			}

			out.Buf.Free()
			if alloc.LiveCount() != 0 {
				t.Errorf("%d guest allocations leaked", alloc.LiveCount())
			}
		})
	}
}

func TestPush_TransfersOwnership(t *testing.T) {
	st, mem, alloc := newTestStack(t)

	gs, err := buffer.FromBytes(mem, alloc, []byte("moved"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	s := &Str{Buf: gs}
	mustPush(t, st, s, 1)

	// the pushed handle is moved: freeing it must not disturb the stack's
	// copy of the allocation
	s.Buf.Free()
	if alloc.MismatchCount() != 0 {
		t.Fatalf("free after push reached the allocator")
	}

	var out Str
	if err := out.Pop(st); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	got, err := out.Buf.Bytes()
	if err != nil || string(got) != "moved" {
		t.Errorf("round trip = %q, %v", got, err)
	}
}

func TestPush_BorrowedStringRejected(t *testing.T) {
	st, mem, alloc := newTestStack(t)

	gs, err := buffer.FromBytes(mem, alloc, []byte("owned"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	view := gs.Borrow().Get()

	depth := st.Depth()
	if _, err := (&Str{Buf: view}).Push(st); err == nil {
		t.Fatal("pushing a borrowed string should fail")
	}
	if st.Depth() != depth {
		t.Errorf("failed push changed depth: %d -> %d", depth, st.Depth())
	}
}

func TestPush_InvalidTextRejected(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantOffset int
	}{
		{"interior null", "a\x00b", 1},
		{"invalid utf8", "a\xffb", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _, alloc := newTestStack(t)
			depth := st.Depth()

			_, err := Text(tt.in).Push(st)
			if kindOf(t, err) != errors.KindInvalidEncoding {
				t.Fatalf("kind = %s, want invalid_encoding", kindOf(t, err))
			}
			var bridgeErr *errors.Error
			stderrors.As(err, &bridgeErr)
			if bridgeErr.Offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", bridgeErr.Offset, tt.wantOffset)
			}
			if st.Depth() != depth {
				t.Errorf("failed push changed depth")
			}
			if alloc.LiveCount() != 0 {
				t.Errorf("failed push leaked %d allocations", alloc.LiveCount())
			}
		})
	}
}

func TestPop_TypeMismatch(t *testing.T) {
	st, _, _ := newTestStack(t)
	mustPush(t, st, Int(7), 1)
	mustPush(t, st, Bool(true), 1)

	var v Int
	err := v.Pop(st)
	if kindOf(t, err) != errors.KindTypeMismatch {
		t.Fatalf("kind = %s, want type_mismatch", kindOf(t, err))
	}

	// the inspected slot is consumed, nothing below it is touched
	if st.Depth() != 1 {
		t.Fatalf("depth = %d after mismatch, want 1", st.Depth())
	}
	if err := v.Pop(st); err != nil {
		t.Fatalf("Pop after mismatch: %v", err)
	}
	if v != 7 {
		t.Errorf("got %d, want 7", v)
	}
}

func TestPop_Underflow(t *testing.T) {
	st, _, _ := newTestStack(t)

	var v Int
	err := v.Pop(st)
	if kindOf(t, err) != errors.KindOutOfBounds {
		t.Fatalf("kind = %s, want out_of_bounds", kindOf(t, err))
	}
}

func TestPopValue_Dynamic(t *testing.T) {
	st, _, _ := newTestStack(t)

	mustPush(t, st, Int(5), 1)
	v, err := PopValue(st)
	if err != nil {
		t.Fatalf("PopValue: %v", err)
	}
	if got, ok := v.(Int); !ok || got != 5 {
		t.Errorf("PopValue = %#v, want Int(5)", v)
	}

	mustPush(t, st, Text("dyn"), 1)
	v, err = PopValue(st)
	if err != nil {
		t.Fatalf("PopValue: %v", err)
	}
	s, ok := v.(*Str)
	if !ok {
		t.Fatalf("PopValue = %T, want *Str", v)
	}
	got, err := s.Buf.Bytes()
	if err != nil || string(got) != "dyn" {
		t.Errorf("lifted string = %q, %v", got, err)
	}
	s.Buf.Free()
}
