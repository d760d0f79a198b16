// Package memtest provides an in-process Memory and a tracking bump
// Allocator for exercising the marshalling layer without a live guest.
package memtest

import (
	"encoding/binary"
	"fmt"
)

// Memory is a bounds-checked in-process implementation of the root Memory
// interface, little-endian like guest linear memory.
type Memory struct {
	data []byte
}

func NewMemory(size int) *Memory {
	return &Memory{data: make([]byte, size)}
}

func (m *Memory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("access out of bounds: offset=%d, length=%d, size=%d", offset, length, len(m.data))
	}
	return nil
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m.data[offset : offset+length], nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.data[offset:]), nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = value
	return nil
}

func (m *Memory) WriteU16(offset uint32, value uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.data[offset:], value)
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// Allocator is a bump allocator that tracks every live allocation so tests
// can assert exact alloc/free pairing. Free verifies that the declared size
// matches what was allocated; mismatches are counted, not fatal, so a test
// can report them with context.
type Allocator struct {
	offset     uint32
	live       map[uint32]uint32 // ptr -> size
	freed      int
	mismatched int
	failAfter  int // fail the nth next Alloc; -1 disabled
}

func NewAllocator(start uint32) *Allocator {
	return &Allocator{
		offset:    start,
		live:      make(map[uint32]uint32),
		failAfter: -1,
	}
}

// FailAfter makes the allocator fail after n more successful allocations.
// FailAfter(0) fails the very next Alloc.
func (a *Allocator) FailAfter(n int) {
	a.failAfter = n
}

func (a *Allocator) Alloc(size, align uint32) (uint32, error) {
	if a.failAfter == 0 {
		return 0, fmt.Errorf("injected allocation failure")
	}
	if a.failAfter > 0 {
		a.failAfter--
	}
	if align == 0 {
		align = 1
	}
	a.offset = (a.offset + align - 1) &^ (align - 1)
	ptr := a.offset
	a.offset += size
	a.live[ptr] = size
	return ptr, nil
}

func (a *Allocator) Free(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	want, ok := a.live[ptr]
	if !ok || want != size {
		a.mismatched++
		return
	}
	delete(a.live, ptr)
	a.freed++
}

// LiveCount returns the number of allocations not yet freed.
func (a *Allocator) LiveCount() int {
	return len(a.live)
}

// FreedCount returns the number of exact-match frees observed.
func (a *Allocator) FreedCount() int {
	return a.freed
}

// MismatchCount returns the number of frees whose pointer or size did not
// match a live allocation.
func (a *Allocator) MismatchCount() int {
	return a.mismatched
}
