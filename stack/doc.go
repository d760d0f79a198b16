// Package stack implements the push/pop protocol that moves native values
// onto and off a guest interpreter's evaluation stack.
//
// A Stack is the explicit handle to one guest instance's evaluation stack,
// bound to that instance's linear memory and allocator. There is no hidden
// global state: every operation takes the handle, so independent guests can
// be exercised side by side.
//
// # The protocol
//
// Pushable and Poppable are the capability interfaces. A push consumes the
// native value completely: string payloads are lowered into guest memory
// through the guest's own allocator and ownership transfers to the stack.
// A pop consumes the stack slot and reconstructs a native value, failing
// with a type_mismatch error when the slot's tag is not what the native
// type expects, or a decode error when the bytes cannot convert.
//
// Composite values (List, Map, Option, Variant) delegate to their elements
// in a fixed, documented order and unwind completely on the first element
// failure, restoring the stack to its pre-push depth and freeing every
// guest allocation the partial push made.
//
// # Error bridging
//
// PushError lowers any native error into an error object the guest can
// catch: a stable kind tag plus the message. PopError lifts one back.
//
// # Crossing the boundary
//
// Lower and Lift serialize the tagged slots to and from guest memory using
// a pinned 24-byte record layout; they are the only boundary surface beside
// the owned buffer itself. The engine package drives them around guest
// calls.
package stack
