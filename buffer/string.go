package buffer

import (
	"bytes"
	"hash/fnv"
	"strings"
	"unicode/utf8"

	guestbridge "github.com/hostvm/guest-bridge"
	"github.com/hostvm/guest-bridge/errors"
)

// Guest strings:
//   - are null-terminated;
//   - *can* contain null bytes;
//   - store a size field that does *not* include the trailing null;
//   - are *not* guaranteed to hold valid UTF-8.
//
// The boundary representation is exactly two 32-bit words, data pointer
// first, then size. PairSize/pairLenOffset pin that layout; Store and Load
// are the only code that touches it.

const (
	// PairSize is the boundary footprint of a String: {ptr u32, len u32}.
	PairSize = 8

	pairPtrOffset = 0
	pairLenOffset = 4

	// one byte past the content, always 0x00, never counted in size
	terminatorSize = 1
)

// String is a byte string owned by the native side but laid out in guest
// linear memory so the guest's C-style code can read it directly.
//
// The zero value is the empty string. Constructors are the only producers of
// the ptr/size/terminator invariant: ptr is the null sentinel exactly when
// size is zero, and a non-null ptr always addresses a size+1 byte allocation
// whose last byte is 0x00.
type String struct {
	mem      guestbridge.Memory
	alloc    guestbridge.Allocator
	ptr      uint32
	size     uint32
	borrowed bool
}

// Empty returns the empty string. It never allocates: the guest's own
// convention for "no string" is a null data pointer, not a zero-length
// allocation.
func Empty() String {
	return String{}
}

// FromBytes copies b into a fresh guest allocation of len(b)+1 bytes and
// appends the terminator. An empty or nil b yields the null sentinel without
// allocating. The only failure mode is the guest allocator or memory write
// failing.
func FromBytes(mem guestbridge.Memory, alloc guestbridge.Allocator, b []byte) (String, error) {
	if len(b) == 0 {
		return String{mem: mem, alloc: alloc}, nil
	}

	size := uint32(len(b))
	ptr, err := alloc.Alloc(size+terminatorSize, 1)
	if err != nil {
		return String{}, errors.AllocationFailed(size+terminatorSize, 1, err)
	}
	if err := mem.Write(ptr, b); err != nil {
		alloc.Free(ptr, size+terminatorSize, 1)
		return String{}, errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write string data")
	}
	if err := mem.WriteU8(ptr+size, 0); err != nil {
		alloc.Free(ptr, size+terminatorSize, 1)
		return String{}, errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write terminator")
	}

	return String{mem: mem, alloc: alloc, ptr: ptr, size: size}, nil
}

// FromString copies a Go string.
func FromString(mem guestbridge.Memory, alloc guestbridge.Allocator, s string) (String, error) {
	return FromBytes(mem, alloc, []byte(s))
}

// FromRune copies the UTF-8 encoding of a single rune.
func FromRune(mem guestbridge.Memory, alloc guestbridge.Allocator, r rune) (String, error) {
	return FromString(mem, alloc, string(r))
}

// FromPath copies a filesystem path. Go paths are byte strings, so the
// conversion is byte-preserving.
func FromPath(mem guestbridge.Memory, alloc guestbridge.Allocator, path string) (String, error) {
	return FromBytes(mem, alloc, []byte(path))
}

// Adopt takes ownership of an existing guest allocation that already
// satisfies the string invariant: size+1 bytes at ptr with a trailing 0x00.
// It is the inverse of Release and exists for the stack protocol and for
// strings handed over by the guest; it does not validate the terminator.
func Adopt(mem guestbridge.Memory, alloc guestbridge.Allocator, ptr, size uint32) String {
	if ptr != 0 && size == 0 {
		// a terminator-only allocation; the canonical empty string is the
		// null sentinel, so take over the free obligation right here
		alloc.Free(ptr, terminatorSize, 1)
	}
	if ptr == 0 || size == 0 {
		return String{mem: mem, alloc: alloc}
	}
	return String{mem: mem, alloc: alloc, ptr: ptr, size: size}
}

// Load reads the pinned {ptr, len} pair from guest memory at addr and adopts
// the allocation it describes.
func Load(mem guestbridge.Memory, alloc guestbridge.Allocator, addr uint32) (String, error) {
	ptr, err := mem.ReadU32(addr + pairPtrOffset)
	if err != nil {
		return String{}, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read string pointer")
	}
	size, err := mem.ReadU32(addr + pairLenOffset)
	if err != nil {
		return String{}, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read string length")
	}
	if ptr == 0 && size != 0 {
		return String{}, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Detail("null string with non-zero length %d", size).
			Build()
	}
	return Adopt(mem, alloc, ptr, size), nil
}

// Store writes the pinned {ptr, len} pair to guest memory at addr. The
// string keeps ownership of its data. The zero value and Empty() hold no
// memory reference to write through, so storing them is an error; an empty
// string built against a guest stores the valid {0, 0} pair.
func (s *String) Store(addr uint32) error {
	if s.mem == nil {
		return errors.InvalidInput(errors.PhaseEncode, "string is not attached to guest memory")
	}
	if err := s.mem.WriteU32(addr+pairPtrOffset, s.ptr); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "store string pointer")
	}
	if err := s.mem.WriteU32(addr+pairLenOffset, s.size); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "store string length")
	}
	return nil
}

// Len returns the byte length, *not* including the terminator.
func (s *String) Len() int {
	return int(s.size)
}

// IsEmpty reports whether the string has length zero.
func (s *String) IsEmpty() bool {
	return s.size == 0
}

// Ptr returns the guest address of the first byte, or 0 for the empty
// string.
func (s *String) Ptr() uint32 {
	return s.ptr
}

// Bytes returns the string's content, exactly size bytes. Empty strings
// yield nil without touching guest memory. The returned slice may alias
// guest memory; it is valid only until the guest runs or the string is
// freed.
func (s *String) Bytes() ([]byte, error) {
	if s.ptr == 0 {
		return nil, nil
	}
	b, err := s.mem.Read(s.ptr, s.size)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read string data")
	}
	return b, nil
}

// Text strictly decodes the content. Valid text is UTF-8 with no interior
// null byte; a null would silently truncate for C consumers, so strict
// decoding rejects it instead. Failure carries the byte offset of the first
// violation.
func (s *String) Text() (string, error) {
	b, err := s.Bytes()
	if err != nil {
		return "", err
	}
	if off := firstInvalid(b); off >= 0 {
		return "", errors.InvalidEncoding(errors.PhaseDecode, off, b)
	}
	return string(b), nil
}

// TextLossy decodes the content, replacing every invalid sequence with
// U+FFFD. It never fails for encoding reasons; interior nulls are preserved
// since Go strings tolerate them.
func (s *String) TextLossy() (string, error) {
	b, err := s.Bytes()
	if err != nil {
		return "", err
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		r, n := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && n == 1 {
			sb.WriteRune(utf8.RuneError)
			i++
			continue
		}
		sb.Write(b[i : i+n])
		i += n
	}
	return sb.String(), nil
}

// IntoBytes consumes the string: it copies out the content, frees the
// size+1 byte allocation, and marks the handle moved so a later Free is a
// no-op. Borrowed views cannot be consumed.
func (s *String) IntoBytes() ([]byte, error) {
	if s.borrowed {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "cannot consume a borrowed string")
	}
	if s.ptr == 0 {
		return nil, nil
	}
	raw, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	s.Free()
	return out, nil
}

// IntoText is the consuming strict decode. On failure the raw bytes ride
// along in the error's Value field so callers can recover them; the guest
// allocation is freed either way.
func (s *String) IntoText() (string, error) {
	b, err := s.IntoBytes()
	if err != nil {
		return "", err
	}
	if off := firstInvalid(b); off >= 0 {
		encErr := errors.InvalidEncoding(errors.PhaseDecode, off, b)
		encErr.Value = b
		return "", encErr
	}
	return string(b), nil
}

// Path returns the content as a filesystem path, byte-preserving.
func (s *String) Path() (string, error) {
	b, err := s.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Clone performs a deep copy with an independent allocation.
func (s *String) Clone() (String, error) {
	b, err := s.Bytes()
	if err != nil {
		return String{}, err
	}
	return FromBytes(s.mem, s.alloc, b)
}

// Free releases the size+1 byte allocation. It is idempotent: null, moved,
// and borrowed handles are no-ops, so a moved-from string is never freed
// twice.
func (s *String) Free() {
	if s.borrowed || s.ptr == 0 {
		s.ptr, s.size = 0, 0
		return
	}
	s.alloc.Free(s.ptr, s.size+terminatorSize, 1)
	s.ptr, s.size = 0, 0
}

// Release consumes the string and hands its raw {ptr, size} pair to the
// caller, who takes over the free obligation. It is the ownership-transfer
// primitive used by the stack protocol's push; Adopt is its inverse.
func (s *String) Release() (ptr, size uint32, err error) {
	if s.borrowed {
		return 0, 0, errors.InvalidInput(errors.PhaseEncode, "cannot transfer ownership of a borrowed string")
	}
	ptr, size = s.ptr, s.size
	s.ptr, s.size = 0, 0
	return ptr, size, nil
}

// Borrow makes a non-owning view of the string: a structural copy that can
// be read and handed across the boundary but carries no free obligation.
// The view is valid only while s is alive and unmodified.
func (s *String) Borrow() NonOwning[String] {
	dup := *s
	dup.borrowed = true
	return NonOwning[String]{inner: dup}
}

// Equal reports bytewise equality, terminator excluded. A readable string
// never equals an unreadable one.
func (s *String) Equal(o *String) bool {
	return s.Compare(o) == 0
}

// Compare orders strings by bytewise lexicographic comparison, like
// bytes.Compare. Not locale- or normalization-aware.
func (s *String) Compare(o *String) int {
	a, errA := s.Bytes()
	b, errB := o.Bytes()
	if errA != nil || errB != nil {
		if errA == nil {
			return -1
		}
		if errB == nil {
			return 1
		}
		return 0
	}
	return bytes.Compare(a, b)
}

// Hash returns a bytewise FNV-1a hash of the content. Equal strings hash
// equally; an unreadable string hashes as empty.
func (s *String) Hash() uint64 {
	b, err := s.Bytes()
	if err != nil {
		b = nil
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// String implements fmt.Stringer via the lossy decoding.
func (s *String) String() string {
	text, err := s.TextLossy()
	if err != nil {
		return "<unreadable>"
	}
	return text
}

// firstInvalid returns the byte offset of the first interior null or invalid
// UTF-8 sequence, or -1 if the content is valid strict text.
func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		if b[i] == 0 {
			return i
		}
		r, n := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && n == 1 {
			return i
		}
		i += n
	}
	return -1
}
