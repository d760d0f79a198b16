package stack

import (
	"testing"

	"github.com/hostvm/guest-bridge/buffer"
	"github.com/hostvm/guest-bridge/errors"
	"github.com/hostvm/guest-bridge/internal/memtest"
)

// writeTestSlot lays a slot record into guest memory the way a guest's own
// lowering would.
func writeTestSlot(t *testing.T, mem *memtest.Memory, base uint32, sl Slot) {
	t.Helper()
	if err := mem.WriteU32(base+slotTagOffset, uint32(sl.Tag)); err != nil {
		t.Fatalf("write tag: %v", err)
	}
	if err := mem.WriteU64(base+slotBitsOffset, sl.Bits); err != nil {
		t.Fatalf("write bits: %v", err)
	}
	if err := mem.WriteU64(base+slotAuxOffset, sl.Aux); err != nil {
		t.Fatalf("write aux: %v", err)
	}
}

func TestLowerLift_RoundTrip(t *testing.T) {
	st, _, alloc := newTestStack(t)

	mustPush(t, st, Int(-5), 1)
	mustPush(t, st, Text("wire"), 1)
	mustPush(t, st, List{Bool(true), Float(0.5)}, 3)

	ptr, count, err := Lower(st)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
	if st.Depth() != 0 {
		t.Fatalf("Lower left depth %d", st.Depth())
	}

	if err := Lift(st, ptr, count); err != nil {
		t.Fatalf("Lift: %v", err)
	}
	if st.Depth() != 5 {
		t.Fatalf("depth after Lift = %d, want 5", st.Depth())
	}

	var l List
	if err := l.Pop(st); err != nil {
		t.Fatalf("pop list: %v", err)
	}
	if len(l) != 2 || l[0] != Bool(true) || l[1] != Float(0.5) {
		t.Errorf("list = %#v", l)
	}
	var s Text
	if err := s.Pop(st); err != nil || s != "wire" {
		t.Errorf("text = %q, %v", s, err)
	}
	var i Int
	if err := i.Pop(st); err != nil || i != -5 {
		t.Errorf("int = %d, %v", i, err)
	}

	// the slot array itself is freed by Lift, the string by the text pop
	if alloc.LiveCount() != 0 {
		t.Errorf("%d guest allocations leaked", alloc.LiveCount())
	}
}

func TestLower_Empty(t *testing.T) {
	st, _, alloc := newTestStack(t)

	ptr, count, err := Lower(st)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if ptr != 0 || count != 0 {
		t.Errorf("Lower(empty) = {%d, %d}, want {0, 0}", ptr, count)
	}
	if alloc.LiveCount() != 0 {
		t.Errorf("empty lower allocated")
	}
}

func TestLower_AllocFailureKeepsStack(t *testing.T) {
	st, _, alloc := newTestStack(t)
	mustPush(t, st, Int(1), 1)
	mustPush(t, st, Int(2), 1)
	alloc.FailAfter(0)

	_, _, err := Lower(st)
	if kindOf(t, err) != errors.KindAllocation {
		t.Fatalf("kind = %s, want allocation", kindOf(t, err))
	}
	if st.Depth() != 2 {
		t.Errorf("failed Lower changed depth to %d", st.Depth())
	}
}

func TestLift_UnknownTagRejected(t *testing.T) {
	st, mem, alloc := newTestStack(t)
	mustPush(t, st, Int(1), 1)

	arr, err := alloc.Alloc(SlotSize, SlotAlign)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteU32(arr+slotTagOffset, uint32(TagError)+1); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	err = Lift(st, arr, 1)
	if kindOf(t, err) != errors.KindDecode {
		t.Fatalf("kind = %s, want decode", kindOf(t, err))
	}
	if st.Depth() != 1 {
		t.Errorf("failed Lift changed depth to %d", st.Depth())
	}
	// the array is consumed even on failure
	if alloc.LiveCount() != 0 {
		t.Errorf("failed Lift leaked the slot array")
	}
}

func TestLift_MidArrayFailureFreesStrings(t *testing.T) {
	st, mem, alloc := newTestStack(t)

	// a released string slot followed by a garbage tag: the unwind must
	// release the string the first slot already owns
	gs, err := buffer.FromBytes(mem, alloc, []byte("leaky"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	ptr, size, err := gs.Release()
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	arr, err := alloc.Alloc(2*SlotSize, SlotAlign)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	writeTestSlot(t, mem, arr, Slot{Tag: TagString, Bits: uint64(ptr), Aux: uint64(size)})
	writeTestSlot(t, mem, arr+SlotSize, Slot{Tag: TagError + 1})

	err = Lift(st, arr, 2)
	if kindOf(t, err) != errors.KindDecode {
		t.Fatalf("kind = %s, want decode", kindOf(t, err))
	}
	if st.Depth() != 0 {
		t.Errorf("failed Lift left depth %d", st.Depth())
	}
	if alloc.LiveCount() != 0 {
		t.Errorf("failed Lift leaked %d guest allocations", alloc.LiveCount())
	}
	if alloc.MismatchCount() != 0 {
		t.Errorf("%d mismatched frees during unwind", alloc.MismatchCount())
	}
}

func TestWire_SlotLayout(t *testing.T) {
	st, mem, _ := newTestStack(t)
	mustPush(t, st, Int(0x1122334455667788), 1)

	ptr, count, err := Lower(st)
	if err != nil || count != 1 {
		t.Fatalf("Lower: %d, %v", count, err)
	}

	tag, _ := mem.ReadU32(ptr + slotTagOffset)
	pad, _ := mem.ReadU32(ptr + slotTagOffset + 4)
	bits, _ := mem.ReadU64(ptr + slotBitsOffset)
	aux, _ := mem.ReadU64(ptr + slotAuxOffset)

	if Tag(tag) != TagInt {
		t.Errorf("tag = %d", tag)
	}
	if pad != 0 {
		t.Errorf("pad = %d, want 0", pad)
	}
	if bits != 0x1122334455667788 {
		t.Errorf("bits = %#x", bits)
	}
	if aux != 0 {
		t.Errorf("aux = %#x, want 0", aux)
	}
}
