package recio

import (
	"sync"

	"github.com/grailbio/batchreader/circular"
)

// arenaPool recycles the backing buffers pulled by store.Cursor so that a
// long-running epoch doesn't re-allocate a fresh buffer per chunk.
var arenaPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0) },
}

// GetBuffer returns a buffer of at least size n from the shared pool. Pair
// with PutBuffer (via Arena.release, which calls it automatically once the
// last Slice referencing the arena is released).
func GetBuffer(n int) []byte {
	b, _ := arenaPool.Get().([]byte)
	if cap(b) < n {
		// Size the capacity at the power of two strictly above n (twice n
		// when n is itself a power of two) so a pool fed by chunks of
		// varying size converges on a handful of reusable capacities
		// instead of one distinct allocation per size seen.
		return make([]byte, n, circular.NextExp2(n))[:n]
	}
	return b[:n]
}

func putBuffer(b []byte) {
	arenaPool.Put(b[:0]) //nolint:staticcheck
}

// Allocator is the global allocator hook from the design notes: a caller
// may supply one to source a store's chunk buffers from somewhere other
// than the shared pool (e.g. an instrumented or arena-style allocator). A
// nil Allocator means "use the pool".
type Allocator func(n int) []byte

// AllocateBuffer returns a buffer of exactly n bytes, sourced from alloc
// when non-nil or from the shared pool (GetBuffer) otherwise.
func AllocateBuffer(alloc Allocator, n int) []byte {
	if alloc != nil {
		return alloc(n)
	}
	return GetBuffer(n)
}

// Arena is the shared-ownership handle for one pulled chunk's backing
// buffer. Every Slice derived from the chunk (by subslicing, by the record
// segmenter, by sharding/shuffling) holds a reference to the same Arena;
// the buffer is only recycled once the last reference is released. This is
// the Go rendering of the "share buffers via a shared-ownership handle
// with immutable views" choice from the design notes: a byte slice handed
// to a decode worker stays valid until that worker releases it, even if
// the ingest task has long since moved past the chunk it came from.
type Arena struct {
	mu      sync.Mutex
	buf     []byte
	refs    int
	fromPool bool
}

// NewArena wraps buf in a fresh Arena with one reference already held by
// the caller (the chunk puller). fromPool indicates the buffer came from
// GetBuffer and should be returned to the pool, rather than left for the
// garbage collector, once the last reference is released.
func NewArena(buf []byte, fromPool bool) *Arena {
	return &Arena{buf: buf, refs: 1, fromPool: fromPool}
}

// Bytes returns the full backing buffer. Callers normally go through
// Slice.Bytes instead.
func (a *Arena) Bytes() []byte { return a.buf }

// Retain increments the reference count. Every call must be matched by a
// Release.
func (a *Arena) Retain() {
	a.mu.Lock()
	a.refs++
	a.mu.Unlock()
}

// Release decrements the reference count, recycling the buffer once it
// reaches zero.
func (a *Arena) Release() {
	a.mu.Lock()
	a.refs--
	r := a.refs
	a.mu.Unlock()
	if r < 0 {
		panic("recio: Arena released more times than retained")
	}
	if r == 0 && a.fromPool {
		putBuffer(a.buf)
	}
}
