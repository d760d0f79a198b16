// Package buffer provides the owned byte string exchanged across the guest
// boundary, and its non-owning view.
//
// A String is heap-allocated in guest linear memory through the guest's own
// allocator, null-terminated, and not guaranteed to hold valid UTF-8. Its
// boundary representation is exactly two 32-bit words, data pointer then
// byte length; the trailing null is never counted in the length. The empty
// string is a null pointer, matching the guest's own convention for "no
// string".
//
// Construction is the only way to produce the pointer/size/terminator
// invariant and Free the only way to consume it, which structurally rules
// out mismatched allocation sizes. Consuming operations (IntoBytes,
// IntoText, Release) mark the handle moved so the allocation is never freed
// twice.
//
// NonOwning views exist for call sites that must hand a string to the guest
// without transferring ownership. See the NonOwning type for the aliasing
// contract.
package buffer
