// Package reorder implements C6, the ordered prefetch queue: it accepts
// decode results completing in arbitrary order and releases them to the
// controller strictly in batch-index order, grounded on the
// Insert(idx,val)/Next()(val,ok,err)/Close(err) shape of
// github.com/grailbio/base/syncqueue.OrderedQueue.
package reorder

import (
	"sync"

	"github.com/grailbio/batchreader/batch"
)

// slot holds one pending batch-index's outcome: either a decoded example,
// a tombstone (the batch was skipped by bad-batch policy and nothing will
// ever arrive for this index), or a fatal error.
type slot struct {
	has       bool
	tombstone bool
	example   batch.Example
	err       error
}

// Queue is a capacity-bounded, index-keyed reorder buffer. Insert may be
// called with indices arriving in any order; Next always returns the
// lowest not-yet-returned index once it is available, blocking until
// then. A tombstoned index is skipped transparently: Next never returns
// it, it simply advances the head past it.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	head     uint64
	pending  map[uint64]slot
	closed   bool
	closeErr error
}

// NewQueue returns a Queue with the given capacity (the maximum number of
// not-yet-released indices it will hold before Insert blocks).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{capacity: capacity, pending: make(map[uint64]slot)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Insert records the outcome for batchIndex. It blocks while the queue
// already holds capacity entries and batchIndex is at or beyond
// head+capacity; an index inside [head, head+capacity) is accepted even
// when the queue is at capacity. It is a no-op after Close.
func (q *Queue) Insert(batchIndex uint64, ex batch.Example, err error) {
	q.insert(batchIndex, slot{has: true, example: ex, err: err})
}

// InsertTombstone marks batchIndex as permanently absent: Next will skip
// past it without ever returning it.
func (q *Queue) InsertTombstone(batchIndex uint64) {
	q.insert(batchIndex, slot{has: true, tombstone: true})
}

func (q *Queue) insert(batchIndex uint64, s slot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.pending) >= q.capacity && batchIndex >= q.head+uint64(q.capacity) {
		q.cond.Wait()
	}
	if q.closed {
		return
	}
	q.pending[batchIndex] = s
	q.cond.Broadcast()
}

// Next blocks until the batch at the current head index is available,
// returning its example. ok is false once the queue is closed and
// drained; the error returned then is the one passed to Close (nil for a
// clean end). A tombstoned head is skipped internally and never
// observed by the caller.
func (q *Queue) Next() (batch.Example, uint64, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		s, ok := q.pending[q.head]
		if ok {
			delete(q.pending, q.head)
			idx := q.head
			q.head++
			q.cond.Broadcast()
			if s.tombstone {
				continue
			}
			return s.example, idx, true, s.err
		}
		if q.closed {
			return batch.Example{}, 0, false, q.closeErr
		}
		q.cond.Wait()
	}
}

// Close stops the queue; any blocked Insert or Next calls wake and
// return. err, if non-nil, is surfaced to every pending and future Next
// call once the queue is drained.
func (q *Queue) Close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.closeErr = err
	q.cond.Broadcast()
}

// Len reports the number of indices currently buffered, for diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
