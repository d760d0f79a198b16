package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	guestbridge "github.com/hostvm/guest-bridge"
)

// stackCaller is the slice of api.Function the allocator needs. Narrowing the
// dependency keeps the argument-shaping logic testable without a live
// instance.
type stackCaller interface {
	CallWithStack(ctx context.Context, stack []uint64) error
}

// guestAllocator drives the guest's exported allocator. Every buffer the
// bridge creates comes from here, so the guest can free what the host
// allocated and vice versa.
//
// The export's arity decides the call shape:
//
//	4 params  canonical realloc: (old_ptr, old_size, align, new_size)
//	2 params  (size, align)
//	1 param   (size)
//
// and for free:
//
//	3 params  (ptr, size, align)
//	2 params  (ptr, size)
//	1 param   (ptr)
type guestAllocator struct {
	allocFn     stackCaller
	freeFn      stackCaller
	currentCtx  context.Context
	log         *zap.Logger
	stackBuf    []uint64
	allocParams int
	freeParams  int
	mu          sync.Mutex
}

func newGuestAllocator(allocFn, freeFn api.Function, allocParams, freeParams int, log *zap.Logger) *guestAllocator {
	a := &guestAllocator{
		stackBuf:    make([]uint64, 8),
		allocParams: allocParams,
		freeParams:  freeParams,
		log:         log,
	}
	if allocFn != nil {
		a.allocFn = allocFn
	}
	if freeFn != nil {
		a.freeFn = freeFn
	}
	return a
}

// setContext pins the context used for guest calls made on behalf of
// buffer and stack operations, which have no context parameter of their own.
func (a *guestAllocator) setContext(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentCtx = ctx
}

func (a *guestAllocator) ctx() context.Context {
	if a.currentCtx != nil {
		return a.currentCtx
	}
	return context.Background()
}

func (a *guestAllocator) Alloc(size, align uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, fmt.Errorf("guest exports no allocator")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	args := a.shapeAlloc(size, align)
	if err := a.allocFn.CallWithStack(a.ctx(), args); err != nil {
		return 0, err
	}
	ptr := uint32(args[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest allocator returned null for %d bytes", size)
	}
	return ptr, nil
}

func (a *guestAllocator) shapeAlloc(size, align uint32) []uint64 {
	switch {
	case a.allocParams >= reallocParamCount:
		a.stackBuf[0] = 0
		a.stackBuf[1] = 0
		a.stackBuf[2] = uint64(align)
		a.stackBuf[3] = uint64(size)
		return a.stackBuf[:4]
	case a.allocParams == 2:
		a.stackBuf[0] = uint64(size)
		a.stackBuf[1] = uint64(align)
		return a.stackBuf[:2]
	default:
		a.stackBuf[0] = uint64(size)
		return a.stackBuf[:1]
	}
}

func (a *guestAllocator) Free(ptr, size, align uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	args := a.shapeFree(ptr, size, align)
	if err := a.freeFn.CallWithStack(a.ctx(), args); err != nil {
		a.log.Warn("guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

func (a *guestAllocator) shapeFree(ptr, size, align uint32) []uint64 {
	switch {
	case a.freeParams >= 3:
		a.stackBuf[0] = uint64(ptr)
		a.stackBuf[1] = uint64(size)
		a.stackBuf[2] = uint64(align)
		return a.stackBuf[:3]
	case a.freeParams == 2:
		a.stackBuf[0] = uint64(ptr)
		a.stackBuf[1] = uint64(size)
		return a.stackBuf[:2]
	default:
		a.stackBuf[0] = uint64(ptr)
		return a.stackBuf[:1]
	}
}

var _ guestbridge.Allocator = (*guestAllocator)(nil)
