// Package guestbridge marshals values between native Go code and an
// embedded, stack-based guest interpreter hosted by wazero.
//
// The library is the boundary layer only: it owns the byte-string type whose
// memory layout matches what the guest's C-style code expects, and the
// push/pop protocol that moves native values onto and off the guest's
// evaluation stack. Everything built on top of these two contracts (host API
// surfaces, plugin registration, derived serialization) lives elsewhere.
//
// # Architecture Overview
//
// The library is organized into a few packages with distinct
// responsibilities:
//
//	guestbridge/         Root package with core Memory and Allocator interfaces
//	├── buffer/          Owned guest byte string and its non-owning view
//	├── stack/           Push/pop marshalling protocol and slot wire format
//	├── engine/          wazero integration: runtime, guest instances, allocator discovery
//	├── errors/          Structured error types for debugging
//	└── cmd/stackrun/    CLI for calling guest exports interactively
//
// # Quick Start
//
// Load a guest and call an export through the stack protocol:
//
//	rt, err := engine.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	guest, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer guest.Close(ctx)
//
//	st := guest.NewStack()
//	if _, err := stack.Text("World").Push(st); err != nil {
//	    log.Fatal(err)
//	}
//	if err := guest.Call(ctx, "greet", st); err != nil {
//	    log.Fatal(err)
//	}
//	var reply stack.Text
//	if err := reply.Pop(st); err != nil {
//	    log.Fatal(err)
//	}
//
// # Memory Model
//
// Buffers and pushed string data live in the guest's linear memory and are
// allocated through the guest's own exported allocator, so either side can
// free them without an allocator mismatch. Ownership transfer across a push
// is total and immediate: once a value is pushed, the native side must not
// read or free it again.
//
// # Thread Safety
//
// Runtime and compiled modules are safe for concurrent use. Guest instances
// and Stack handles are NOT thread-safe; a stack belongs to a single logical
// call chain. Re-entrant use from guest callbacks is fine, concurrent use
// from multiple goroutines is not.
package guestbridge
