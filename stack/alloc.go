package stack

import (
	"sync"

	guestbridge "github.com/hostvm/guest-bridge"
)

type allocation struct {
	ptr   uint32
	size  uint32
	align uint32
}

// allocationList collects the guest allocations made during one composite
// push so a failed push can free them all and leave no trace.
type allocationList struct {
	allocs []allocation
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &allocationList{allocs: make([]allocation, 0, 8)}
	},
}

func newAllocationList() *allocationList {
	return allocationListPool.Get().(*allocationList)
}

const maxPooledAllocationCapacity = 128

// release returns the list to the pool; the list is invalid afterwards.
func (al *allocationList) release() {
	// Only pool small lists to prevent memory bloat
	if cap(al.allocs) > maxPooledAllocationCapacity {
		return
	}
	al.allocs = al.allocs[:0]
	allocationListPool.Put(al)
}

func (al *allocationList) add(ptr, size, align uint32) {
	al.allocs = append(al.allocs, allocation{ptr: ptr, size: size, align: align})
}

func (al *allocationList) free(alloc guestbridge.Allocator) {
	if alloc == nil {
		return
	}
	for _, a := range al.allocs {
		if a.ptr != 0 {
			alloc.Free(a.ptr, a.size, a.align)
		}
	}
}
