package recio

import "io"

// chunkCursor adapts a ChunkSource into a byte-exact reader: readExact(n)
// returns precisely n bytes, zero-copy when they lie entirely within the
// chunk most recently pulled from the source, falling back to a single
// copy only when a request straddles a chunk boundary. This mirrors how
// framed log readers (write-ahead logs, SSTable block readers) reassemble
// a record that spans two physical blocks: the common case is zero-copy,
// the boundary case pays for one copy.
type chunkCursor struct {
	src      ChunkSource
	cur      Slice
	consumed int64
	eof      bool
}

func (c *chunkCursor) advance(k int) {
	if k == 0 {
		return
	}
	rest := c.cur.Sub(k, c.cur.Len()-k)
	c.cur.Release()
	c.cur = rest
}

func (c *chunkCursor) setCur(s Slice) {
	c.cur.Release()
	c.cur = s
}

// readExact returns exactly n bytes. err is io.EOF if the store ended
// before any of the n bytes were available, or io.ErrUnexpectedEOF if the
// store ended partway through satisfying the request.
func (c *chunkCursor) readExact(n int) (Slice, error) {
	if n == 0 {
		return Slice{}, nil
	}
	if c.cur.Len() >= n {
		s := c.cur.Sub(0, n)
		c.advance(n)
		return s, nil
	}

	buf := GetBuffer(n)
	got := 0
	if c.cur.Len() > 0 {
		got = copy(buf, c.cur.Bytes())
		c.advance(c.cur.Len())
	}
	for got < n {
		if c.eof {
			return Slice{}, io.ErrUnexpectedEOF
		}
		chunk, err := c.src.Pull()
		if err == io.EOF {
			c.eof = true
			if got == 0 {
				return Slice{}, io.EOF
			}
			return Slice{}, io.ErrUnexpectedEOF
		}
		if err != nil {
			return Slice{}, err
		}
		c.consumed += int64(chunk.Data.Len())
		if got == 0 && chunk.Data.Len() >= n {
			// The request lies entirely within the new chunk: serve it as
			// a subslice instead of copying.
			putBuffer(buf)
			c.setCur(chunk.Data)
			s := c.cur.Sub(0, n)
			c.advance(n)
			return s, nil
		}
		take := n - got
		if take > chunk.Data.Len() {
			take = chunk.Data.Len()
		}
		got += copy(buf[got:], chunk.Data.Bytes()[:take])
		if take < chunk.Data.Len() {
			rest := chunk.Data.Sub(take, chunk.Data.Len()-take)
			chunk.Data.Release()
			c.setCur(rest)
		} else {
			chunk.Data.Release()
		}
	}
	return NewSlice(NewArena(buf, true)), nil
}
