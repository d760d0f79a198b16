package stack

import (
	"github.com/hostvm/guest-bridge/buffer"
	"github.com/hostvm/guest-bridge/errors"
)

// A native error crosses the boundary as an error object the guest can
// catch and inspect: a guest-memory record of two string pairs,
//
//	{kindPtr u32, kindLen u32, msgPtr u32, msgLen u32}
//
// holding the stable error-kind tag and the human-readable message. The
// guest never needs to understand the native error's internals to branch
// on the kind or display the message.
const errRecordSize = 2 * buffer.PairSize

// ErrorValue is the marshalled form of an error object.
type ErrorValue struct {
	Kind    string
	Message string
}

func (*ErrorValue) value() {}

func (e *ErrorValue) Push(st *Stack) (int, error) {
	depth := st.begin()

	rec, err := st.alloc.Alloc(errRecordSize, 4)
	if err != nil {
		st.rollback(depth)
		return 0, errors.AllocationFailed(errRecordSize, 4, err)
	}
	st.note(rec, errRecordSize, 4)

	if err := storeErrString(st, rec, e.Kind); err != nil {
		st.rollback(depth)
		return 0, err
	}
	if err := storeErrString(st, rec+buffer.PairSize, e.Message); err != nil {
		st.rollback(depth)
		return 0, err
	}

	st.pushSlot(Slot{Tag: TagError, Bits: uint64(rec), Aux: errRecordSize})
	st.commit()
	return 1, nil
}

func storeErrString(st *Stack, addr uint32, s string) error {
	gs, err := buffer.FromString(st.mem, st.alloc, s)
	if err != nil {
		return err
	}
	if err := gs.Store(addr); err != nil {
		gs.Free()
		return err
	}
	ptr, size, err := gs.Release()
	if err != nil {
		return err
	}
	if ptr != 0 {
		st.note(ptr, size+1, 1)
	}
	return nil
}

func (e *ErrorValue) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagError {
		return errors.TypeMismatch(errors.PhaseDecode, TagError.String(), sl.Tag.String())
	}
	lifted, err := liftErrorPayload(st, sl)
	if err != nil {
		return err
	}
	*e = *lifted
	return nil
}

func liftError(st *Stack, sl Slot) (Value, error) {
	return liftErrorPayload(st, sl)
}

func liftErrorPayload(st *Stack, sl Slot) (*ErrorValue, error) {
	rec := uint32(sl.Bits)

	// the record and both strings are owned here from the first read on;
	// every exit, error or not, ends with all three released
	kindStr, err := buffer.Load(st.mem, st.alloc, rec)
	if err != nil {
		dropErrString(st, rec+buffer.PairSize)
		st.alloc.Free(rec, errRecordSize, 4)
		return nil, err
	}
	kind, err := kindStr.IntoText()
	if err != nil {
		dropErrString(st, rec+buffer.PairSize)
		st.alloc.Free(rec, errRecordSize, 4)
		return nil, errors.DecodeFailed("error object kind is not strict text", err)
	}

	msgStr, err := buffer.Load(st.mem, st.alloc, rec+buffer.PairSize)
	if err != nil {
		st.alloc.Free(rec, errRecordSize, 4)
		return nil, err
	}
	msg, err := msgStr.IntoText()
	if err != nil {
		st.alloc.Free(rec, errRecordSize, 4)
		return nil, errors.DecodeFailed("error object message is not strict text", err)
	}

	st.alloc.Free(rec, errRecordSize, 4)
	return &ErrorValue{Kind: kind, Message: msg}, nil
}

// dropErrString frees the string an error-record pair points at, when the
// pair is readable. Used on lift failure, where nothing consumed it.
func dropErrString(st *Stack, addr uint32) {
	gs, err := buffer.Load(st.mem, st.alloc, addr)
	if err != nil {
		return
	}
	gs.Free()
}

// PushError lowers any native error into a guest-visible error object.
// Structured errors keep their kind tag; everything else crosses as the
// generic foreign kind.
func PushError(st *Stack, err error) (int, error) {
	ev := &ErrorValue{
		Kind:    string(errors.KindOf(err)),
		Message: err.Error(),
	}
	return ev.Push(st)
}

// PopError lifts an error object back into a structured native error.
func PopError(st *Stack) (*errors.Error, error) {
	var ev ErrorValue
	if err := ev.Pop(st); err != nil {
		return nil, err
	}
	return &errors.Error{
		Phase:  errors.PhaseRuntime,
		Kind:   errors.Kind(ev.Kind),
		Detail: ev.Message,
		Offset: errors.NoOffset,
	}, nil
}
