// Package store implements the input-stream contract (the "data store"
// collaborator consumed by the batching pipeline) and the dataset cursor
// that concatenates stores into a single chunked byte stream for the
// record segmenter.
package store

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/grailbio/batchreader/fault"
	"github.com/grailbio/batchreader/recio"
)

// Stream is the input-stream contract: sequential reads, an explicit
// close, and a cancellation hook that forces a pending or future Read to
// return promptly. Streams are not required to be seekable; Reset obtains
// a fresh Stream by reopening the Store.
type Stream interface {
	io.Reader
	Close() error
	// CancelPending forces any Read call in progress, or any future Read
	// call, to return promptly with an error. Safe to call concurrently
	// with Read, and safe to call more than once.
	CancelPending()
}

// Store is a stable, reopenable handle to one append-only byte source.
type Store interface {
	// ID is a stable identifier used in diagnostics and faults.
	ID() string
	// Open returns a fresh Stream reading from the start of the store.
	Open(ctx context.Context) (Stream, error)
}

// DefaultChunkSize is the bound on a single chunk pulled from a store when
// no explicit size is configured.
const DefaultChunkSize = 1 << 20 // 1 MiB

// Cursor concatenates an ordered list of Stores, opening them one at a
// time and handing each an independent recio.ChunkSource. This is C1: it
// never parses record framing itself, it only bounds chunk size and
// counts bytes pulled.
type Cursor struct {
	stores    []Store
	chunkSize int
	alloc     recio.Allocator
	next      int
	bytesRead int64 // atomic

	// mu guards active: NextStore/CloseActive run on the ingest goroutine
	// while Cancel runs on whichever goroutine drives Reset, concurrently.
	mu     sync.Mutex
	active Stream
}

// NewCursor returns a Cursor over stores, pulling chunks of at most
// chunkSize bytes (DefaultChunkSize if chunkSize <= 0). alloc, if
// non-nil, sources every chunk buffer pulled from a store instead of the
// package's shared pool (recio.GetBuffer); this is the global allocator
// hook from the design notes, reachable from config.Options.Allocator.
func NewCursor(stores []Store, chunkSize int, alloc recio.Allocator) *Cursor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Cursor{stores: stores, chunkSize: chunkSize, alloc: alloc}
}

// BytesRead reports the cumulative number of bytes pulled across all
// stores opened by this cursor so far.
func (c *Cursor) BytesRead() int64 {
	return atomic.LoadInt64(&c.bytesRead)
}

// NextStore opens the next store in sequence and returns a ChunkSource
// over it. ok is false once every store has been exhausted (the terminal
// signal); the caller's segmenter loop should stop on ok==false.
//
// Opening a new store after closing the previous one is what lets the
// record segmenter reset its parser state at a store boundary, since a
// fresh Segmenter is constructed per store by the decoder's
// MakeRecordReader.
func (c *Cursor) NextStore(ctx context.Context) (Store, recio.ChunkSource, bool, error) {
	if c.next >= len(c.stores) {
		return nil, nil, false, nil
	}
	s := c.stores[c.next]
	c.next++
	stream, err := s.Open(ctx)
	if err != nil {
		return nil, nil, false, fault.NewIO(s.ID(), 0, err)
	}
	c.mu.Lock()
	c.active = stream
	c.mu.Unlock()
	src := &cursorSource{
		stream:    stream,
		storeID:   s.ID(),
		chunkSize: c.chunkSize,
		alloc:     c.alloc,
		bytesRead: &c.bytesRead,
	}
	return s, src, true, nil
}

// CloseActive closes the Stream most recently returned by NextStore. The
// ingest loop calls this once it has drained the current store's
// segmenter, before moving to the next store.
func (c *Cursor) CloseActive() error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Close()
}

// Cancel forces the currently open Stream, if any, to abort pending and
// future reads. Used by the controller's reset/cancellation path; safe to
// call concurrently with the ingest task's use of the cursor.
func (c *Cursor) Cancel() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != nil {
		active.CancelPending()
	}
}

// cursorSource adapts a Stream into a recio.ChunkSource, bounding each
// pull to chunkSize bytes and accumulating the shared byte counter.
type cursorSource struct {
	stream     Stream
	storeID    string
	chunkSize  int
	alloc      recio.Allocator
	offset     int64
	bytesRead  *int64
	pendingErr error
}

func (s *cursorSource) Pull() (recio.Chunk, error) {
	if s.pendingErr != nil {
		err := s.pendingErr
		s.pendingErr = nil
		if err == io.EOF {
			return recio.Chunk{}, io.EOF
		}
		return recio.Chunk{}, fault.NewIO(s.storeID, s.offset, err)
	}

	buf := recio.AllocateBuffer(s.alloc, s.chunkSize)
	n, err := s.stream.Read(buf)
	if n == 0 {
		if err == nil || err == io.EOF {
			return recio.Chunk{}, io.EOF
		}
		return recio.Chunk{}, fault.NewIO(s.storeID, s.offset, err)
	}

	atomic.AddInt64(s.bytesRead, int64(n))
	off := s.offset
	s.offset += int64(n)
	if err != nil {
		s.pendingErr = err
	}
	// Only a pool-sourced buffer (no custom allocator) is eligible to be
	// recycled back into that pool once every Slice referencing it is
	// released.
	return recio.Chunk{Data: recio.NewSlice(recio.NewArena(buf[:n], s.alloc == nil)), Offset: off}, nil
}
