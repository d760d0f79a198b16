package stack

import (
	"github.com/hostvm/guest-bridge/buffer"
	"github.com/hostvm/guest-bridge/errors"
)

// Slot wire format. A stack crosses the boundary as an array of 24-byte
// records in guest memory, little-endian, bottom slot first:
//
//	offset 0   tag   u32
//	offset 4   pad   u32 (zero)
//	offset 8   bits  u64
//	offset 16  aux   u64
//
// The layout is pinned here; Lower and Lift are the only code that touches
// it. The caller that allocated an array frees it: the host frees the
// argument array after the call returns, and Lift frees the result array
// the guest allocated.
const (
	SlotSize  = 24
	SlotAlign = 8

	slotTagOffset  = 0
	slotBitsOffset = 8
	slotAuxOffset  = 16
)

// Lower drains the stack into a freshly allocated guest array and returns
// its address and slot count. An empty stack lowers to {0, 0} with no
// allocation. On failure the stack is left intact and nothing is leaked.
func Lower(st *Stack) (ptr uint32, count uint32, err error) {
	count = uint32(len(st.slots))
	if count == 0 {
		return 0, 0, nil
	}

	size := count * SlotSize
	ptr, err = st.alloc.Alloc(size, SlotAlign)
	if err != nil {
		return 0, 0, errors.AllocationFailed(size, SlotAlign, err)
	}

	for i, sl := range st.slots {
		base := ptr + uint32(i)*SlotSize
		if err := writeSlot(st, base, sl); err != nil {
			st.alloc.Free(ptr, size, SlotAlign)
			return 0, 0, err
		}
	}

	st.slots = st.slots[:0]
	return ptr, count, nil
}

func writeSlot(st *Stack, base uint32, sl Slot) error {
	if err := st.mem.WriteU32(base+slotTagOffset, uint32(sl.Tag)); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write slot tag")
	}
	if err := st.mem.WriteU32(base+slotTagOffset+4, 0); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write slot pad")
	}
	if err := st.mem.WriteU64(base+slotBitsOffset, sl.Bits); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write slot bits")
	}
	if err := st.mem.WriteU64(base+slotAuxOffset, sl.Aux); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write slot aux")
	}
	return nil
}

// Lift reads count slots from a guest array, appends them to the stack, and
// frees the array. On failure the stack is restored to its prior depth; the
// array is freed either way.
func Lift(st *Stack, ptr, count uint32) error {
	if count == 0 {
		return nil
	}
	size := count * SlotSize
	defer st.alloc.Free(ptr, size, SlotAlign)

	depth := len(st.slots)
	for i := uint32(0); i < count; i++ {
		base := ptr + i*SlotSize
		sl, err := readSlot(st, base)
		if err != nil {
			for _, lifted := range st.slots[depth:] {
				dropSlot(st, lifted)
			}
			st.slots = st.slots[:depth]
			return err
		}
		st.pushSlot(sl)
	}
	return nil
}

// dropSlot frees the guest allocations a slot owns. Scalar slots own
// nothing; strings own their data, error objects their record and both
// strings.
func dropSlot(st *Stack, sl Slot) {
	switch sl.Tag {
	case TagString:
		if sl.Bits != 0 {
			st.alloc.Free(uint32(sl.Bits), uint32(sl.Aux)+1, 1)
		}
	case TagError:
		rec := uint32(sl.Bits)
		dropErrString(st, rec)
		dropErrString(st, rec+buffer.PairSize)
		st.alloc.Free(rec, errRecordSize, 4)
	}
}

func readSlot(st *Stack, base uint32) (Slot, error) {
	tag, err := st.mem.ReadU32(base + slotTagOffset)
	if err != nil {
		return Slot{}, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read slot tag")
	}
	if tag > uint32(TagError) {
		return Slot{}, errors.New(errors.PhaseDecode, errors.KindDecode).
			Detail("unknown slot tag %d", tag).
			Build()
	}
	bits, err := st.mem.ReadU64(base + slotBitsOffset)
	if err != nil {
		return Slot{}, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read slot bits")
	}
	aux, err := st.mem.ReadU64(base + slotAuxOffset)
	if err != nil {
		return Slot{}, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read slot aux")
	}
	return Slot{Tag: Tag(tag), Bits: bits, Aux: aux}, nil
}
