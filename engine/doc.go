// Package engine hosts guest modules on wazero and binds them to the
// marshalling layer.
//
// Runtime wraps a wazero runtime. Runtime.Load compiles and instantiates a
// guest, discovers its linear memory and its exported allocator (probing
// cabi_realloc first, then the libc names, then the simple alloc/free pair),
// and returns a Guest. The Guest hands out the Memory and Allocator the
// buffer and stack packages build on, and Guest.Call drives the stack
// calling convention end to end: lower the stack into guest memory, invoke
// the export with (ptr, count), lift the returned (ptr, count) back onto the
// same stack, and free both slot arrays.
//
// Runtimes may be shared across goroutines. Guests and the stacks bound to
// them may not.
package engine
