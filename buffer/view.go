package buffer

// NonOwning wraps a structural copy of a value that deliberately skips the
// ownership bookkeeping of the original: you may read it and hand it across
// the boundary, you do not own it, and nothing must ever free it.
//
// Views are only produced inside this package (see String.Borrow); the
// zero-field construction path is unexported on purpose. A view is valid
// only as long as the value it aliases is alive and unmodified, and it must
// never be passed through a consuming protocol operation. That lifetime rule
// is a caller obligation, not something checked at runtime.
type NonOwning[T any] struct {
	inner T
}

// Get returns the aliased copy.
func (n NonOwning[T]) Get() T {
	return n.inner
}
