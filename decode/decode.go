// Package decode implements C5, the parallel decode worker pool, and
// defines the format-specific Decoder capability triple the pool and the
// ingest task consume.
package decode

import (
	"runtime"
	"sync"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/fault"
	"github.com/grailbio/batchreader/instream"
	"github.com/grailbio/batchreader/recio"
	"github.com/grailbio/batchreader/rlog"
)

// Decoder is the format-specific capability triple injected into the
// pipeline. Concrete readers (a CSV reader, a RecordIO reader, an image
// reader) differ only in these three methods; the pipeline never branches
// on reader type, only calls through this interface. Decode must be
// deterministic for equal inputs, safe for concurrent use with no shared
// mutable state, and must not block on pipeline internals.
type Decoder interface {
	// MakeRecordReader chooses the record segmentation strategy for one
	// store and returns a Segmenter reading from src.
	MakeRecordReader(storeID string, src recio.ChunkSource) (recio.Segmenter, error)
	// InferSchema is called at most once per epoch, on the first
	// non-empty instance the pipeline observes.
	InferSchema(first instream.Instance) (batch.Schema, error)
	// Decode turns a batch of raw instances into a decoded example.
	Decode(d batch.Descriptor) (batch.Example, error)
}

// BadBatchPolicy selects how a worker's decode failure is handled.
type BadBatchPolicy int

const (
	// BadBatchError surfaces the fault and poisons the pipeline.
	BadBatchError BadBatchPolicy = iota
	// BadBatchSkip drops the batch; the reorder queue observes a hole at
	// that batch-index and advances past it transparently.
	BadBatchSkip
	// BadBatchWarn behaves like BadBatchSkip but also reports a
	// diagnostic through the configured rlog.Sink.
	BadBatchWarn
)

// Result is one worker's outcome for a batch, published to the reorder
// queue. Tombstone is true when the batch was dropped by policy; Err is
// non-nil for a decode failure under BadBatchError, or for a schema
// inference failure or schema mismatch under any policy, and is fatal.
type Result struct {
	BatchIndex uint64
	Example    batch.Example
	Tombstone  bool
	Err        error
}

// Pool is a worker pool of N tasks draining batch descriptors from a
// bounded channel (capacity P, which also bounds prefetch depth: no batch
// leaves the batch former unless a slot is available) and publishing
// decoded results.
type Pool struct {
	decoder Decoder
	policy  BadBatchPolicy
	sink    rlog.Sink

	in  chan batch.Descriptor
	out chan Result

	cancel     chan struct{}
	cancelOnce sync.Once
	wg         sync.WaitGroup

	schemaMu sync.Mutex
	schema   *batch.Schema
}

// NewPool starts a Pool of workers workers (runtime.NumCPU() if <= 0) fed
// by a channel of capacity capacity (workers if <= 0).
func NewPool(decoder Decoder, workers, capacity int, policy BadBatchPolicy, sink rlog.Sink) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if capacity <= 0 {
		capacity = workers
	}
	p := &Pool{
		decoder: decoder,
		policy:  policy,
		sink:    sink,
		in:      make(chan batch.Descriptor, capacity),
		out:     make(chan Result, capacity),
		cancel:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.out)
	}()
	return p
}

// Submit enqueues a batch descriptor, blocking while the channel is full
// (the pipeline's natural backpressure). It returns false if the pool was
// cancelled before the descriptor could be enqueued.
func (p *Pool) Submit(d batch.Descriptor) bool {
	select {
	case p.in <- d:
		return true
	case <-p.cancel:
		return false
	}
}

// CloseInput signals that no further descriptors will be submitted; each
// worker exits once it has drained the remaining queued descriptors.
func (p *Pool) CloseInput() {
	close(p.in)
}

// Results returns the channel of published results, in arbitrary
// completion order; ordering is the reorder queue's responsibility.
func (p *Pool) Results() <-chan Result {
	return p.out
}

// Cancel requests every worker to stop between decodes. It is idempotent
// and safe to call concurrently with Submit/CloseInput.
func (p *Pool) Cancel() {
	p.cancelOnce.Do(func() { close(p.cancel) })
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Schema returns the schema inferred so far, or nil if no non-empty
// instance has been observed yet.
func (p *Pool) Schema() *batch.Schema {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	return p.schema
}

// publish sends r on the output channel, respecting cancellation so a
// worker never blocks forever once Cancel has been called and the
// collector has stopped draining.
func (p *Pool) publish(r Result) {
	select {
	case p.out <- r:
	case <-p.cancel:
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.cancel:
			return
		case d, ok := <-p.in:
			if !ok {
				return
			}
			p.process(d)
		}
	}
}

func (p *Pool) process(d batch.Descriptor) {
	ex, err := p.decoder.Decode(d)
	if err != nil {
		switch p.policy {
		case BadBatchSkip:
			p.publish(Result{BatchIndex: d.BatchIndex, Tombstone: true})
		case BadBatchWarn:
			if p.sink != nil {
				p.sink.Report("bad_batch", map[string]interface{}{
					"batch_index": d.BatchIndex,
					"error":       err.Error(),
				})
			}
			p.publish(Result{BatchIndex: d.BatchIndex, Tombstone: true})
		default:
			p.publish(Result{BatchIndex: d.BatchIndex, Err: fault.NewBadBatch(d.BatchIndex, err)})
		}
		return
	}
	ex.Padding = d.PaddingCount

	if err := p.ensureSchema(d); err != nil {
		p.publish(Result{BatchIndex: d.BatchIndex, Err: err})
		return
	}
	if schema := p.Schema(); schema != nil && !schemaMatches(*schema, ex) {
		p.publish(Result{BatchIndex: d.BatchIndex, Err: fault.NewSchemaMismatch(d.BatchIndex, "decoded tensor shapes disagree with cached schema")})
		return
	}
	p.publish(Result{BatchIndex: d.BatchIndex, Example: ex})
}

// ensureSchema infers and caches the schema from the first non-padding
// instance observed, per the decoder contract's "called at most once per
// epoch, on the first non-empty instance" rule. It is a no-op once the
// schema is already set, and a no-op if d has no real (non-padding)
// instance to infer from.
func (p *Pool) ensureSchema(d batch.Descriptor) error {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	if p.schema != nil {
		return nil
	}
	for _, inst := range d.Instances {
		if inst.Payload.Len() == 0 {
			continue // synthetic pad instance
		}
		schema, err := p.decoder.InferSchema(inst)
		if err != nil {
			return err
		}
		p.schema = &schema
		return nil
	}
	return nil
}

func schemaMatches(schema batch.Schema, ex batch.Example) bool {
	if len(schema.Attributes) != len(ex.Tensors) {
		return false
	}
	for i, attr := range schema.Attributes {
		t := ex.Tensors[i]
		if attr.Name != t.Name || attr.Type != t.Type {
			return false
		}
		if len(t.Shape) == 0 {
			continue
		}
		if !shapeEqual(attr.Shape, t.Shape[1:]) {
			return false
		}
	}
	return true
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
