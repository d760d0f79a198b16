package stack

import (
	"sort"
	"strconv"

	"github.com/hostvm/guest-bridge/errors"
)

// Composites delegate to their element types' push/pop in a fixed,
// documented order. On the wire a composite is its payload slots followed
// by one header slot, so the header is always on top:
//
//	list:    e1 .. eN, {list, Bits: payload slots, Aux: N}
//	map:     k1 v1 .. kN vN (sorted by key), {map, Bits: payload slots, Aux: N}
//	variant: payload?, {variant, Bits: case, Aux: payload slots}
//
// A failed element push unwinds everything the composite produced, so the
// stack depth is exactly what it was before the push began.

// List is a marshalled sequence. Elements are pushed first-to-last; the
// dynamic lifter therefore sees them last-to-first and reverses.
type List []Value

func (List) value() {}

func (l List) Push(st *Stack) (int, error) {
	depth := st.begin()
	produced := 0
	for i, el := range l {
		if el == nil {
			el = Nil{}
		}
		n, err := el.Push(st)
		if err != nil {
			st.rollback(depth)
			return 0, elementErr(errors.PhaseEncode, "list", i, err)
		}
		produced += n
	}
	st.pushSlot(Slot{Tag: TagList, Bits: uint64(produced), Aux: uint64(len(l))})
	st.commit()
	return produced + 1, nil
}

func (l *List) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagList {
		return errors.TypeMismatch(errors.PhaseDecode, TagList.String(), sl.Tag.String())
	}
	lifted, err := liftListPayload(st, sl)
	if err != nil {
		return err
	}
	*l = lifted
	return nil
}

func liftList(st *Stack, sl Slot) (Value, error) {
	return liftListPayload(st, sl)
}

func liftListPayload(st *Stack, sl Slot) (List, error) {
	// each element occupies at least one slot, so the header's claimed
	// count never exceeds what is actually below it
	if sl.Aux > uint64(st.Depth()) {
		return nil, errors.New(errors.PhaseDecode, errors.KindDecode).
			Detail("list header claims %d elements with %d slots below", sl.Aux, st.Depth()).
			Build()
	}
	n := int(sl.Aux)
	out := make(List, n)
	for i := n - 1; i >= 0; i-- {
		v, err := PopValue(st)
		if err != nil {
			return nil, elementErr(errors.PhaseDecode, "list", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Map is a marshalled key-value mapping with strict-text keys. Pairs are
// pushed in sorted key order so the wire order is deterministic.
type Map map[string]Value

func (Map) value() {}

func (m Map) Push(st *Stack) (int, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	depth := st.begin()
	produced := 0
	for _, k := range keys {
		n, err := Text(k).Push(st)
		if err != nil {
			st.rollback(depth)
			return 0, keyErr(errors.PhaseEncode, k, err)
		}
		produced += n

		v := m[k]
		if v == nil {
			v = Nil{}
		}
		n, err = v.Push(st)
		if err != nil {
			st.rollback(depth)
			return 0, keyErr(errors.PhaseEncode, k, err)
		}
		produced += n
	}
	st.pushSlot(Slot{Tag: TagMap, Bits: uint64(produced), Aux: uint64(len(m))})
	st.commit()
	return produced + 1, nil
}

func (m *Map) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagMap {
		return errors.TypeMismatch(errors.PhaseDecode, TagMap.String(), sl.Tag.String())
	}
	lifted, err := liftMapPayload(st, sl)
	if err != nil {
		return err
	}
	*m = lifted
	return nil
}

func liftMap(st *Stack, sl Slot) (Value, error) {
	return liftMapPayload(st, sl)
}

func liftMapPayload(st *Stack, sl Slot) (Map, error) {
	// every entry is a key slot plus at least one value slot
	if sl.Aux > uint64(st.Depth())/2 {
		return nil, errors.New(errors.PhaseDecode, errors.KindDecode).
			Detail("map header claims %d entries with %d slots below", sl.Aux, st.Depth()).
			Build()
	}
	n := int(sl.Aux)
	out := make(Map, n)
	for i := 0; i < n; i++ {
		// pairs are key-then-value on the wire, so the value is on top
		v, err := PopValue(st)
		if err != nil {
			return nil, err
		}
		var k Text
		if err := k.Pop(st); err != nil {
			return nil, err
		}
		out[string(k)] = v
	}
	return out, nil
}

// Option is a marshalled optional value. None is the interpreter's nil on
// the wire, so an Option holding an explicit Nil is indistinguishable from
// none, exactly like the interpreter's own convention.
type Option struct {
	Value Value // nil means none
}

func (Option) value() {}

func (o Option) Push(st *Stack) (int, error) {
	if o.Value == nil {
		return Nil{}.Push(st)
	}
	return o.Value.Push(st)
}

func (o *Option) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag == TagNil {
		o.Value = nil
		return nil
	}
	v, err := liftSlot(st, sl)
	if err != nil {
		return err
	}
	o.Value = v
	return nil
}

// Variant is a marshalled tagged union: a case discriminant plus an
// optional payload. A unit case has a nil payload and zero payload slots.
type Variant struct {
	Payload Value
	Case    uint32
}

func (*Variant) value() {}

func (v *Variant) Push(st *Stack) (int, error) {
	depth := st.begin()
	produced := 0
	if v.Payload != nil {
		n, err := v.Payload.Push(st)
		if err != nil {
			st.rollback(depth)
			return 0, errors.Wrap(errors.PhaseEncode, errors.KindOf(err), err, "push variant payload")
		}
		produced = n
	}
	st.pushSlot(Slot{Tag: TagVariant, Bits: uint64(v.Case), Aux: uint64(produced)})
	st.commit()
	return produced + 1, nil
}

func (v *Variant) Pop(st *Stack) error {
	sl, err := st.popSlot()
	if err != nil {
		return err
	}
	if sl.Tag != TagVariant {
		return errors.TypeMismatch(errors.PhaseDecode, TagVariant.String(), sl.Tag.String())
	}
	lifted, err := liftVariantPayload(st, sl)
	if err != nil {
		return err
	}
	*v = *lifted
	return nil
}

func liftVariant(st *Stack, sl Slot) (Value, error) {
	return liftVariantPayload(st, sl)
}

func liftVariantPayload(st *Stack, sl Slot) (*Variant, error) {
	v := &Variant{Case: uint32(sl.Bits)}
	if sl.Aux > 0 {
		payload, err := PopValue(st)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseDecode, errors.KindOf(err), err, "pop variant payload")
		}
		v.Payload = payload
	}
	return v, nil
}

func elementErr(phase errors.Phase, what string, index int, err error) error {
	return errors.New(phase, errors.KindOf(err)).
		Path(what, strconv.Itoa(index)).
		Cause(err).
		Detail("marshal %s element", what).
		Build()
}

func keyErr(phase errors.Phase, key string, err error) error {
	return errors.New(phase, errors.KindOf(err)).
		Path("map", key).
		Cause(err).
		Detail("marshal map entry").
		Build()
}
