package engine

// Guest allocator export names, probed in order. The canonical-ABI realloc
// comes first, then the libc pair, then the simple names older toolchains
// emit.
const (
	CabiRealloc = "cabi_realloc"
	CabiFree    = "cabi_free"

	legacyRealloc = "canonical_abi_realloc"
	legacyFree    = "canonical_abi_free"
	libcMalloc    = "malloc"
	libcFree      = "free"
	legacyAlloc   = "allocate"
	legacyDealloc = "deallocate"
	simpleAlloc   = "alloc"
)

var allocNames = []string{CabiRealloc, legacyRealloc, libcMalloc, legacyAlloc, simpleAlloc}
var freeNames = []string{CabiFree, legacyFree, libcFree, legacyDealloc}

// reallocParamCount is the arity of a canonical realloc export
// (old_ptr, old_size, align, new_size). Anything narrower is treated as a
// plain size-taking allocator.
const reallocParamCount = 4

// pickExport returns the first candidate present in defs, a name-to-arity
// table of the guest's exported functions.
func pickExport(defs map[string]int, candidates []string) (name string, params int, ok bool) {
	for _, c := range candidates {
		if n, found := defs[c]; found {
			return c, n, true
		}
	}
	return "", 0, false
}
