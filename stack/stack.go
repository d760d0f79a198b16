package stack

import (
	guestbridge "github.com/hostvm/guest-bridge"
	"github.com/hostvm/guest-bridge/errors"
)

// Tag identifies the interpreter-level type of a stack slot.
type Tag uint8

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagList
	TagMap
	TagVariant
	TagError
)

var tagNames = [...]string{
	TagNil:     "nil",
	TagBool:    "bool",
	TagInt:     "int",
	TagFloat:   "float",
	TagString:  "string",
	TagList:    "list",
	TagMap:     "map",
	TagVariant: "variant",
	TagError:   "error",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "unknown"
}

// Slot is one tagged entry on the evaluation stack. Bits carries the scalar
// payload or a guest data pointer; Aux carries a length or count where the
// tag needs one.
type Slot struct {
	Bits uint64
	Aux  uint64
	Tag  Tag
}

// Stack is the explicit handle to one guest instance's evaluation stack.
// It is bound to that instance's memory and allocator and belongs to a
// single logical call chain: re-entrant use from guest callbacks is fine,
// concurrent use from multiple goroutines is not.
type Stack struct {
	mem     guestbridge.Memory
	alloc   guestbridge.Allocator
	slots   []Slot
	records []*allocationList
}

// New creates an empty stack bound to the given guest memory and allocator.
func New(mem guestbridge.Memory, alloc guestbridge.Allocator) *Stack {
	return &Stack{mem: mem, alloc: alloc}
}

// Depth returns the current number of slots.
func (st *Stack) Depth() int {
	return len(st.slots)
}

// Memory returns the guest memory this stack is bound to.
func (st *Stack) Memory() guestbridge.Memory {
	return st.mem
}

// Allocator returns the guest allocator this stack is bound to.
func (st *Stack) Allocator() guestbridge.Allocator {
	return st.alloc
}

func (st *Stack) pushSlot(sl Slot) {
	st.slots = append(st.slots, sl)
}

func (st *Stack) popSlot() (Slot, error) {
	if len(st.slots) == 0 {
		return Slot{}, errors.Underflow(errors.PhaseDecode)
	}
	sl := st.slots[len(st.slots)-1]
	st.slots = st.slots[:len(st.slots)-1]
	return sl, nil
}

// begin opens an allocation record for a composite push and returns the
// depth to restore on failure. Every guest allocation made (or adopted)
// while the record is open is noted, so rollback can undo a partial push
// completely.
func (st *Stack) begin() int {
	st.records = append(st.records, newAllocationList())
	return len(st.slots)
}

// note registers a guest allocation with the innermost open record, if any.
func (st *Stack) note(ptr, size, align uint32) {
	if n := len(st.records); n > 0 {
		st.records[n-1].add(ptr, size, align)
	}
}

// commit closes the innermost record, handing its allocations to the
// enclosing record so an outer rollback still frees them.
func (st *Stack) commit() {
	n := len(st.records)
	top := st.records[n-1]
	st.records = st.records[:n-1]
	if n > 1 {
		parent := st.records[n-2]
		parent.allocs = append(parent.allocs, top.allocs...)
	}
	top.release()
}

// rollback closes the innermost record, frees everything it noted, and
// restores the stack to the given depth.
func (st *Stack) rollback(depth int) {
	n := len(st.records)
	top := st.records[n-1]
	st.records = st.records[:n-1]
	top.free(st.alloc)
	top.release()
	st.slots = st.slots[:depth]
}
