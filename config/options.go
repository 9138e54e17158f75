// Package config holds the pipeline's recognised options and validates
// them synchronously at construction, per spec.md §7.1: a configuration
// error must prevent the controller from ever entering "running".
package config

import (
	"runtime"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/decode"
	"github.com/grailbio/batchreader/fault"
)

// Allocator lets the caller supply a custom byte-buffer source for the
// record arena (github.com/grailbio/batchreader/recio), e.g. to route
// allocations through an instrumented or pooled allocator. A nil
// Allocator means recio.GetBuffer's default sync.Pool-backed allocator.
type Allocator func(n int) []byte

// Options is the full set of recognised pipeline options, mirroring
// spec.md §6's configuration table.
type Options struct {
	BatchSize             int
	NumPrefetchedBatches  int // 0 -> hardware concurrency
	NumParallelReads      int // 0 -> NumPrefetchedBatches
	LastBatchHandling     batch.LastBatchPolicy
	BadBatchHandling      decode.BadBatchPolicy
	NumInstancesToSkip    uint64
	NumInstancesToRead    *uint64 // nil -> unbounded
	ShardIndex            int
	NumShards             int // 0 or 1 -> sharding disabled
	ShuffleInstances      bool
	ShuffleWindow         int
	ShuffleSeed           int64
	ShuffleSeedIsSet      bool // false -> sample once at construction
	ReshuffleEachEpoch    bool
	SubsampleRatio        float64 // (0, 1]

	Allocator Allocator
}

// Validate checks Options for internal consistency, returning a
// *fault.Configuration describing the first problem found, or nil.
func (o *Options) Validate() error {
	if o.BatchSize < 1 {
		return fault.NewConfiguration("batch_size", "must be >= 1")
	}
	if o.NumPrefetchedBatches < 0 {
		return fault.NewConfiguration("num_prefetched_batches", "must be >= 0")
	}
	if o.NumParallelReads < 0 {
		return fault.NewConfiguration("num_parallel_reads", "must be >= 0")
	}
	switch o.LastBatchHandling {
	case batch.LastBatchNone, batch.LastBatchDrop, batch.LastBatchPad:
	default:
		return fault.NewConfiguration("last_batch_handling", "must be one of none, drop, pad")
	}
	switch o.BadBatchHandling {
	case decode.BadBatchError, decode.BadBatchSkip, decode.BadBatchWarn:
	default:
		return fault.NewConfiguration("bad_batch_handling", "must be one of error, skip, warn")
	}
	if o.NumInstancesToRead != nil && *o.NumInstancesToRead == 0 {
		return fault.NewConfiguration("num_instances_to_read", "must be >= 1 when set")
	}
	if o.NumShards < 0 {
		return fault.NewConfiguration("num_shards", "must be >= 0")
	}
	if o.NumShards > 1 {
		if o.ShardIndex < 0 || o.ShardIndex >= o.NumShards {
			return fault.NewConfiguration("shard_index", "must satisfy 0 <= shard_index < num_shards")
		}
	}
	if o.ShuffleInstances && o.ShuffleWindow < 0 {
		return fault.NewConfiguration("shuffle_window", "must be >= 0")
	}
	if o.SubsampleRatio <= 0 || o.SubsampleRatio > 1 {
		return fault.NewConfiguration("subsample_ratio", "must satisfy 0 < r <= 1")
	}
	return nil
}

// ResolvedPrefetch returns NumPrefetchedBatches, defaulting to hardware
// concurrency when zero.
func (o *Options) ResolvedPrefetch() int {
	if o.NumPrefetchedBatches > 0 {
		return o.NumPrefetchedBatches
	}
	return runtime.NumCPU()
}

// ResolvedWorkers returns NumParallelReads, defaulting to the resolved
// prefetch depth when zero.
func (o *Options) ResolvedWorkers() int {
	if o.NumParallelReads > 0 {
		return o.NumParallelReads
	}
	return o.ResolvedPrefetch()
}

// ResolvedShuffleWindow returns the effective reservoir size: 0 when
// shuffling is disabled outright.
func (o *Options) ResolvedShuffleWindow() int {
	if !o.ShuffleInstances {
		return 0
	}
	return o.ShuffleWindow
}
