package stack

import (
	"math"
	"unicode/utf8"

	"github.com/hostvm/guest-bridge/buffer"
	"github.com/hostvm/guest-bridge/errors"
)

// Pushable moves a native value onto the stack, consuming it, and returns
// the number of slots produced. On failure the implementation must leave
// the stack at its pre-call depth and free any guest allocations it made.
// Once a value has been pushed the native side must not read or free it
// again.
type Pushable interface {
	Push(st *Stack) (int, error)
}

// Poppable fills a native value from the top of the stack, consuming the
// slot(s) it occupies. The inspected slot is removed before the tag check,
// so a type mismatch leaves the stack one slot shorter; that is the
// documented contract, not an accident.
type Poppable interface {
	Pop(st *Stack) error
}

// Value is a marshalled value that the dynamic lifter (PopValue) can also
// produce. New value kinds only need Pushable/Poppable; Value exists for
// composites whose elements are not statically typed.
type Value interface {
	Pushable
	value()
}

// Nil is the interpreter's nil.
type Nil struct{}

func (Nil) value() {}

func (Nil) Push(st *Stack) (int, error) {
	st.pushSlot(Slot{Tag: TagNil})
	return 1, nil
}

func (*Nil) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagNil {
		return errors.TypeMismatch(errors.PhaseDecode, TagNil.String(), sl.Tag.String())
	}
	return nil
}

// Bool is a marshalled boolean.
type Bool bool

func (Bool) value() {}

func (b Bool) Push(st *Stack) (int, error) {
	var bits uint64
	if b {
		bits = 1
	}
	st.pushSlot(Slot{Tag: TagBool, Bits: bits})
	return 1, nil
}

func (b *Bool) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagBool {
		return errors.TypeMismatch(errors.PhaseDecode, TagBool.String(), sl.Tag.String())
	}
	*b = sl.Bits != 0
	return nil
}

// Int is a marshalled 64-bit signed integer.
type Int int64

func (Int) value() {}

func (i Int) Push(st *Stack) (int, error) {
	st.pushSlot(Slot{Tag: TagInt, Bits: uint64(i)})
	return 1, nil
}

func (i *Int) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagInt {
		return errors.TypeMismatch(errors.PhaseDecode, TagInt.String(), sl.Tag.String())
	}
	*i = Int(sl.Bits)
	return nil
}

// Float is a marshalled 64-bit float.
type Float float64

func (Float) value() {}

func (f Float) Push(st *Stack) (int, error) {
	st.pushSlot(Slot{Tag: TagFloat, Bits: math.Float64bits(float64(f))})
	return 1, nil
}

func (f *Float) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagFloat {
		return errors.TypeMismatch(errors.PhaseDecode, TagFloat.String(), sl.Tag.String())
	}
	*f = Float(math.Float64frombits(sl.Bits))
	return nil
}

// Text is strict text: UTF-8 with no interior null. Push rejects anything
// else; arbitrary byte strings go through Str instead.
type Text string

func (Text) value() {}

func (t Text) Push(st *Stack) (int, error) {
	if off := firstInvalidText(string(t)); off >= 0 {
		return 0, errors.InvalidEncoding(errors.PhaseEncode, off, []byte(t))
	}
	gs, err := buffer.FromString(st.mem, st.alloc, string(t))
	if err != nil {
		return 0, err
	}
	return pushOwned(st, &gs)
}

func (t *Text) Pop(st *Stack) error {
	var gs Str
	if err := gs.Pop(st); err != nil {
		return err
	}
	text, err := gs.Buf.IntoText()
	if err != nil {
		return errors.DecodeFailed("string content is not strict text", err)
	}
	*t = Text(text)
	return nil
}

// Str adopts or yields an owned guest byte string. Push transfers the
// buffer's ownership to the stack; Pop adopts the allocation from it.
type Str struct {
	Buf buffer.String
}

func (*Str) value() {}

func (s *Str) Push(st *Stack) (int, error) {
	return pushOwned(st, &s.Buf)
}

func (s *Str) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagString {
		return errors.TypeMismatch(errors.PhaseDecode, TagString.String(), sl.Tag.String())
	}
	s.Buf = buffer.Adopt(st.mem, st.alloc, uint32(sl.Bits), uint32(sl.Aux))
	return nil
}

// pushOwned transfers an owned buffer onto the stack as one string slot,
// noting the allocation so an enclosing composite can unwind it.
func pushOwned(st *Stack, gs *buffer.String) (int, error) {
	ptr, size, err := gs.Release()
	if err != nil {
		return 0, err
	}
	if ptr != 0 {
		st.note(ptr, size+1, 1)
	}
	st.pushSlot(Slot{Tag: TagString, Bits: uint64(ptr), Aux: uint64(size)})
	return 1, nil
}

// PopValue removes the top value and lifts it dynamically by tag. String
// slots lift as *Str: the byte string is the honest dynamic representation,
// typed pops exist for callers that want strict text.
func PopValue(st *Stack) (Value, error) {
	sl, err := st.popSlot()
	if err != nil {
		return nil, err
	}
	return liftSlot(st, sl)
}

func liftSlot(st *Stack, sl Slot) (Value, error) {
	switch sl.Tag {
	case TagNil:
		return Nil{}, nil
	case TagBool:
		return Bool(sl.Bits != 0), nil
	case TagInt:
		return Int(sl.Bits), nil
	case TagFloat:
		return Float(math.Float64frombits(sl.Bits)), nil
	case TagString:
		return &Str{Buf: buffer.Adopt(st.mem, st.alloc, uint32(sl.Bits), uint32(sl.Aux))}, nil
	case TagList:
		return liftList(st, sl)
	case TagMap:
		return liftMap(st, sl)
	case TagVariant:
		return liftVariant(st, sl)
	case TagError:
		return liftError(st, sl)
	default:
		return nil, errors.New(errors.PhaseDecode, errors.KindDecode).
			Detail("unknown stack tag %d", sl.Tag).
			Build()
	}
}

// firstInvalidText returns the offset of the first interior null or invalid
// UTF-8 sequence in s, or -1.
func firstInvalidText(s string) int {
	for i := 0; i < len(s); {
		if s[i] == 0 {
			return i
		}
		r, n := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && n == 1 {
			return i
		}
		i += n
	}
	return -1
}
