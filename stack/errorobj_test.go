package stack

import (
	stderrors "errors"
	"testing"

	"github.com/hostvm/guest-bridge/buffer"
	"github.com/hostvm/guest-bridge/errors"
)

func TestErrorValue_RoundTrip(t *testing.T) {
	st, _, alloc := newTestStack(t)

	in := &ErrorValue{Kind: "not_found", Message: "no such key: user.name"}
	mustPush(t, st, in, 1)

	var out ErrorValue
	if err := out.Pop(st); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if out.Kind != in.Kind || out.Message != in.Message {
		t.Errorf("round trip = %+v, want %+v", out, *in)
	}

	if st.Depth() != 0 {
		t.Errorf("depth = %d, want 0", st.Depth())
	}
	if alloc.LiveCount() != 0 {
		t.Errorf("%d guest allocations leaked", alloc.LiveCount())
	}
}

func TestErrorValue_PushFailureUnwinds(t *testing.T) {
	st, _, alloc := newTestStack(t)
	// record and kind string allocate, the message string fails
	alloc.FailAfter(2)

	in := &ErrorValue{Kind: "decode", Message: "bad input"}
	_, err := in.Push(st)
	if kindOf(t, err) != errors.KindAllocation {
		t.Fatalf("kind = %s, want allocation", kindOf(t, err))
	}
	if st.Depth() != 0 {
		t.Errorf("depth = %d after failed push, want 0", st.Depth())
	}
	if alloc.LiveCount() != 0 {
		t.Errorf("failed push leaked %d guest allocations", alloc.LiveCount())
	}
}

func TestErrorValue_LiftFailureFreesRecord(t *testing.T) {
	st, mem, alloc := newTestStack(t)

	// build an error record whose kind string is not strict text, the
	// way a misbehaving guest would
	rec, err := alloc.Alloc(errRecordSize, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	kind, err := buffer.FromBytes(mem, alloc, []byte{0x6b, 0xff})
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if err := kind.Store(rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, _, err := kind.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	msg, err := buffer.FromBytes(mem, alloc, []byte("message"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if err := msg.Store(rec + buffer.PairSize); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, _, err := msg.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	st.pushSlot(Slot{Tag: TagError, Bits: uint64(rec), Aux: errRecordSize})

	var out ErrorValue
	if kindOf(t, out.Pop(st)) != errors.KindDecode {
		t.Fatal("invalid error object accepted")
	}
	if alloc.LiveCount() != 0 {
		t.Errorf("failed lift leaked %d guest allocations", alloc.LiveCount())
	}
	if alloc.MismatchCount() != 0 {
		t.Errorf("%d mismatched frees during failed lift", alloc.MismatchCount())
	}
}

func TestPushError_StructuredKind(t *testing.T) {
	st, _, _ := newTestStack(t)

	cause := errors.NotFound(errors.PhaseRuntime, "handler", "on_save")
	if _, err := PushError(st, cause); err != nil {
		t.Fatalf("PushError: %v", err)
	}

	out, err := PopError(st)
	if err != nil {
		t.Fatalf("PopError: %v", err)
	}
	if out.Kind != errors.KindNotFound {
		t.Errorf("Kind = %s, want not_found", out.Kind)
	}
	if out.Detail != cause.Error() {
		t.Errorf("Detail = %q, want %q", out.Detail, cause.Error())
	}
}

func TestPushError_ForeignError(t *testing.T) {
	st, _, _ := newTestStack(t)

	if _, err := PushError(st, stderrors.New("connection reset")); err != nil {
		t.Fatalf("PushError: %v", err)
	}

	out, err := PopError(st)
	if err != nil {
		t.Fatalf("PopError: %v", err)
	}
	if out.Kind != errors.KindForeign {
		t.Errorf("Kind = %s, want %s", out.Kind, errors.KindForeign)
	}
	if out.Detail != "connection reset" {
		t.Errorf("Detail = %q", out.Detail)
	}
}
