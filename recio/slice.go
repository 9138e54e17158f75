package recio

// Slice is an immutable, reference-counted view over a contiguous range of
// bytes owned by an Arena. Slices may be subsliced without copying; the
// underlying buffer lives as long as any Slice referencing it does.
//
// A zero Slice (nil Arena) is a valid empty slice that needs no Release.
type Slice struct {
	arena *Arena
	off   int
	len   int
}

// NewSlice wraps the whole of arena's buffer in a Slice. The caller's
// reference to arena is transferred to the returned Slice.
func NewSlice(arena *Arena) Slice {
	return Slice{arena: arena, off: 0, len: len(arena.Bytes())}
}

// Bytes returns the byte range this Slice denotes. The caller must not
// retain the returned slice beyond the lifetime of this Slice (i.e. past a
// call to Release), nor mutate it.
func (s Slice) Bytes() []byte {
	if s.arena == nil {
		return nil
	}
	return s.arena.Bytes()[s.off : s.off+s.len]
}

// Len returns the number of bytes in the slice.
func (s Slice) Len() int { return s.len }

// Sub returns the subslice [off, off+n) of s, without copying. The
// returned Slice holds its own reference to the arena; both the parent and
// child must be released independently.
func (s Slice) Sub(off, n int) Slice {
	if off < 0 || n < 0 || off+n > s.len {
		panic("recio: Slice.Sub out of range")
	}
	if s.arena != nil {
		s.arena.Retain()
	}
	return Slice{arena: s.arena, off: s.off + off, len: n}
}

// Clone returns a new Slice referencing the same bytes, with its own
// reference on the arena. Use when a Record's payload must outlive the
// scope that produced it (e.g. handed off across a channel).
func (s Slice) Clone() Slice {
	return s.Sub(0, s.len)
}

// Release drops this Slice's reference to its arena. Every Slice obtained
// from NewSlice, Sub, or Clone must eventually be released exactly once.
func (s Slice) Release() {
	if s.arena != nil {
		s.arena.Release()
	}
}
