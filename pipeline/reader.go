// Package pipeline implements C7, the controller: it owns the state
// machine described in spec.md §4.7, wires the ingest task (C1-C4) to the
// decode pool (C5) and the reorder queue (C6), and exposes the
// next/peek/reset surface external callers drive.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/config"
	"github.com/grailbio/batchreader/decode"
	"github.com/grailbio/batchreader/fault"
	"github.com/grailbio/batchreader/instream"
	"github.com/grailbio/batchreader/recio"
	"github.com/grailbio/batchreader/reorder"
	"github.com/grailbio/batchreader/rlog"
	"github.com/grailbio/batchreader/store"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateEnded
	StatePoisoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	case StatePoisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// epoch bundles everything owned by one running() lifetime so that
// reset() can tear it all down and start fresh without any field leaking
// into the next epoch.
type epoch struct {
	cursor *store.Cursor
	pool   *decode.Pool
	queue  *reorder.Queue

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	mu       sync.Mutex
	fatalErr error
}

func (e *epoch) setFatal(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatalErr == nil {
		e.fatalErr = err
	}
}

func (e *epoch) fatal() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatalErr
}

// Reader is the C7 controller.
type Reader struct {
	stores  []store.Store
	decoder decode.Decoder
	opts    config.Options
	sink    rlog.Sink

	mu    sync.Mutex
	state State
	ep    *epoch

	shuffleSeed     int64
	shuffleSeedSet  bool
	shuffleSeedUsed bool

	schemaMu sync.Mutex
	schema   *batch.Schema

	hasPeeked bool
	peeked    batch.Example
	peekedErr error
}

// New validates opts and returns a Reader over stores, decoding through
// decoder. A nil sink disables diagnostic reporting for bad_batch_handling
// = warn.
func New(stores []store.Store, decoder decode.Decoder, opts config.Options, sink rlog.Sink) (*Reader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r := &Reader{stores: stores, decoder: decoder, opts: opts, sink: sink, state: StateIdle}
	if opts.ShuffleSeedIsSet {
		r.shuffleSeed = opts.ShuffleSeed
		r.shuffleSeedSet = true
	}
	return r, nil
}

// Next returns the next example in batch-index order, blocking until it
// is resolved. It returns io.EOF once the epoch has ended cleanly, or the
// fault that poisoned the epoch.
func (r *Reader) Next() (batch.Example, error) {
	r.mu.Lock()
	if r.hasPeeked {
		ex, err := r.peeked, r.peekedErr
		r.hasPeeked = false
		r.peeked, r.peekedErr = batch.Example{}, nil
		r.mu.Unlock()
		return ex, err
	}
	r.ensureStartedLocked()
	ep := r.ep
	r.mu.Unlock()

	return r.pull(ep)
}

// Peek returns the head example without consuming it: the next call to
// Next or Peek observes the same result.
func (r *Reader) Peek() (batch.Example, error) {
	r.mu.Lock()
	if r.hasPeeked {
		ex, err := r.peeked, r.peekedErr
		r.mu.Unlock()
		return ex, err
	}
	r.ensureStartedLocked()
	ep := r.ep
	r.mu.Unlock()

	ex, err := r.pull(ep)

	r.mu.Lock()
	r.hasPeeked = true
	r.peeked, r.peekedErr = ex, err
	r.mu.Unlock()
	return ex, err
}

// pull drains one example from ep's reorder queue and updates controller
// state accordingly (poisoned on fault, ended on clean drain).
func (r *Reader) pull(ep *epoch) (batch.Example, error) {
	ex, _, ok, err := ep.queue.Next()
	if ok {
		return ex, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ep != ep {
		// A reset already moved us on; report cancellation to this caller.
		return batch.Example{}, fault.ErrReset
	}
	if err != nil {
		r.state = StatePoisoned
		return batch.Example{}, err
	}
	if fe := ep.fatal(); fe != nil {
		r.state = StatePoisoned
		return batch.Example{}, fe
	}
	r.state = StateEnded
	return batch.Example{}, io.EOF
}

func (r *Reader) ensureStartedLocked() {
	if r.state == StateRunning {
		return
	}
	if r.state == StatePoisoned || r.state == StateEnded {
		return
	}
	r.startLocked()
}

// startLocked transitions idle -> running: it builds a fresh epoch and
// launches the ingest task, the collector task, and the decode pool's
// workers.
func (r *Reader) startLocked() {
	seed := r.resolveSeedLocked()

	ctx, cancel := context.WithCancel(context.Background())
	cursor := store.NewCursor(r.stores, store.DefaultChunkSize, recio.Allocator(r.opts.Allocator))
	pool := decode.NewPool(r.decoder, r.opts.ResolvedWorkers(), r.opts.ResolvedPrefetch(), r.opts.BadBatchHandling, r.sink)
	queue := reorder.NewQueue(r.opts.ResolvedPrefetch())

	ep := &epoch{cursor: cursor, pool: pool, queue: queue, ctx: ctx, cancel: cancel}
	r.ep = ep
	r.state = StateRunning

	src := newRecordSource(ctx, cursor, r.decoder)
	instOpts := instream.Options{
		Skip:           r.opts.NumInstancesToSkip,
		Limit:          r.opts.NumInstancesToRead,
		ShardIndex:     r.opts.ShardIndex,
		NumShards:      r.opts.NumShards,
		ShuffleWindow:  r.opts.ResolvedShuffleWindow(),
		ShuffleSeed:    seed,
		SubsampleRatio: r.opts.SubsampleRatio,
	}
	former := batch.NewFormer(instream.New(src, instOpts), r.opts.BatchSize, r.opts.LastBatchHandling)

	ep.wg.Add(2)
	go r.runIngest(ep, former)
	go r.runCollector(ep)
}

// resolveSeedLocked implements "shuffle seed is either the configured
// value or sampled once at construction": the sampled value, once drawn,
// is reused across epochs unless reshuffle_each_epoch requests a fresh
// one. The first epoch always uses the configured or first-sampled seed;
// reshuffle_each_epoch only re-seeds the epochs after it.
func (r *Reader) resolveSeedLocked() int64 {
	if !r.shuffleSeedSet {
		r.shuffleSeed = randomSeed()
		r.shuffleSeedSet = true
		r.shuffleSeedUsed = true
		return r.shuffleSeed
	}
	if r.opts.ReshuffleEachEpoch && r.shuffleSeedUsed {
		r.shuffleSeed = randomSeed()
	}
	r.shuffleSeedUsed = true
	return r.shuffleSeed
}

func randomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

func (r *Reader) runIngest(ep *epoch, former *batch.Former) {
	defer ep.wg.Done()
	defer ep.pool.CloseInput()
	for {
		select {
		case <-ep.ctx.Done():
			return
		default:
		}
		d, err := former.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			ep.setFatal(err)
			ep.pool.Cancel()
			return
		}
		if !ep.pool.Submit(d) {
			return
		}
	}
}

func (r *Reader) runCollector(ep *epoch) {
	defer ep.wg.Done()
	for res := range ep.pool.Results() {
		if res.Err != nil {
			ep.setFatal(res.Err)
			ep.pool.Cancel()
			continue
		}
		if res.Tombstone {
			ep.queue.InsertTombstone(res.BatchIndex)
			continue
		}
		r.observeSchema(ep)
		ep.queue.Insert(res.BatchIndex, res.Example, nil)
	}
	ep.queue.Close(ep.fatal())
}

func (r *Reader) observeSchema(ep *epoch) {
	s := ep.pool.Schema()
	if s == nil {
		return
	}
	r.schemaMu.Lock()
	if r.schema == nil {
		r.schema = s
	}
	r.schemaMu.Unlock()
}

// NumBytesRead reports the cumulative bytes pulled through C1 in the
// current epoch.
func (r *Reader) NumBytesRead() int64 {
	r.mu.Lock()
	ep := r.ep
	r.mu.Unlock()
	if ep == nil {
		return 0
	}
	return ep.cursor.BytesRead()
}

// Schema returns the schema inferred so far this epoch, or nil if no
// non-empty instance has been decoded yet.
func (r *Reader) Schema() *batch.Schema {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	return r.schema
}

// State returns the controller's current lifecycle state.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset cancels the running epoch if any, joins every task, rewinds the
// data stores by reopening them on the next start, resets the shuffle PRNG
// per reshuffle_each_epoch, clears counters, and returns to idle. It is
// safe to call concurrently with a pending Next from another caller: that
// call observes fault.ErrReset.
func (r *Reader) Reset() {
	r.mu.Lock()
	ep := r.ep
	r.ep = nil
	r.state = StateIdle
	r.hasPeeked = false
	r.peeked, r.peekedErr = batch.Example{}, nil
	r.mu.Unlock()

	r.schemaMu.Lock()
	r.schema = nil
	r.schemaMu.Unlock()

	if ep == nil {
		return
	}
	ep.cancel()
	ep.cursor.Cancel()
	ep.pool.Cancel()
	ep.queue.Close(fault.ErrReset)
	ep.wg.Wait()
	ep.pool.Wait()
}

// Close is equivalent to Reset followed by releasing any held resources;
// it is safe to call on an idle Reader.
func (r *Reader) Close() {
	r.Reset()
}
