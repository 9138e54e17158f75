// Package instream implements C3, the instance stream: it turns the flat
// record sequence produced by the record segmenter into the instance
// sequence the batch former consumes, applying skip, limit, shard,
// shuffle, and subsample in that fixed order.
package instream

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"math/rand"

	"github.com/grailbio/batchreader/recio"
)

// Instance is a single post-segmentation, post-filter record promoted into
// the batching stream: its origin store, its ordinal (assigned here, after
// all filtering, for diagnostics only), and its byte slice.
type Instance struct {
	StoreID string
	Ordinal uint64
	Payload recio.Slice
}

// Source is the flat record sequence C3 consumes: every record produced by
// the segmenter across every store, in ingest order, regardless of kind.
// Next returns io.EOF once the dataset is exhausted.
type Source interface {
	Next() (recio.Record, string, error)
}

// Options configures C3's filter chain. ShuffleSeed must already be
// resolved to a concrete value by the caller (the controller resolves the
// "configured value or sampled once at construction" default described in
// spec.md §4.3 before ever constructing a Stream).
type Options struct {
	Skip               uint64
	Limit              *uint64 // nil = unbounded
	ShardIndex         int
	NumShards          int // 0 or 1 disables sharding
	ShuffleWindow      int // 0 disables shuffling
	ShuffleSeed        int64
	SubsampleRatio     float64 // (0, 1]; 1 disables subsampling
}

type item struct {
	storeID string
	payload recio.Slice
}

// Stream is the C3 pipeline stage.
type Stream struct {
	src  Source
	opts Options

	skipRemaining  uint64
	limitRemaining *uint64
	limitExhausted bool
	idxCounter     uint64

	shuf    *shuffler
	subRand *rand.Rand

	draining bool
	drainBuf []item
	drainPos int

	ordinal uint64
}

// New returns a Stream applying opts over src.
func New(src Source, opts Options) *Stream {
	var limit *uint64
	if opts.Limit != nil {
		l := *opts.Limit
		limit = &l
	}
	shufRand := rand.New(rand.NewSource(opts.ShuffleSeed))
	subRand := rand.New(rand.NewSource(deriveSeed(opts.ShuffleSeed, "subsample")))
	return &Stream{
		src:            src,
		opts:           opts,
		limitRemaining: limit,
		shuf:           newShuffler(opts.ShuffleWindow, shufRand),
		subRand:        subRand,
	}
}

// Next returns the next Instance, or io.EOF once the filter chain has
// drained the whole dataset (including the shuffle reservoir).
func (s *Stream) Next() (Instance, error) {
	for {
		if s.draining {
			for s.drainPos < len(s.drainBuf) {
				it := s.drainBuf[s.drainPos]
				s.drainPos++
				if s.keepSubsample() {
					return s.finalize(it), nil
				}
				it.payload.Release()
			}
			return Instance{}, io.EOF
		}

		it, ok, err := s.nextFiltered()
		if err != nil {
			return Instance{}, err
		}
		if !ok {
			s.drainBuf = s.shuf.drain()
			s.drainPos = 0
			s.draining = true
			continue
		}

		out, emitted := s.shuf.feed(it)
		if !emitted {
			continue
		}
		if !s.keepSubsample() {
			out.payload.Release()
			continue
		}
		return s.finalize(out), nil
	}
}

// nextFiltered pulls from src, dropping non-data records and applying
// skip/limit/shard, until it has a candidate instance or the dataset (as
// seen by those three filters) is exhausted.
func (s *Stream) nextFiltered() (item, bool, error) {
	if s.limitExhausted {
		return item{}, false, nil
	}
	for {
		rec, storeID, err := s.src.Next()
		if err == io.EOF {
			return item{}, false, nil
		}
		if err != nil {
			return item{}, false, err
		}
		if rec.Kind != recio.KindData {
			rec.Payload.Release()
			continue
		}
		it := item{storeID: storeID, payload: rec.Payload}

		if s.skipRemaining < s.opts.Skip {
			s.skipRemaining++
			it.payload.Release()
			continue
		}
		if s.limitRemaining != nil {
			if *s.limitRemaining == 0 {
				it.payload.Release()
				s.limitExhausted = true
				return item{}, false, nil
			}
			*s.limitRemaining--
		}

		idx := s.idxCounter
		s.idxCounter++
		if s.opts.NumShards > 1 && int(idx%uint64(s.opts.NumShards)) != s.opts.ShardIndex {
			it.payload.Release()
			continue
		}
		return it, true, nil
	}
}

func (s *Stream) keepSubsample() bool {
	if s.opts.SubsampleRatio >= 1 {
		return true
	}
	return s.subRand.Float64() < s.opts.SubsampleRatio
}

func (s *Stream) finalize(it item) Instance {
	inst := Instance{StoreID: it.storeID, Ordinal: s.ordinal, Payload: it.payload}
	s.ordinal++
	return inst
}

// deriveSeed mixes seed with a purpose tag to produce the subsample PRNG's
// seed deterministically from the shuffle seed, per spec.md §4.3.
func deriveSeed(seed int64, purpose string) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(purpose))
	return int64(h.Sum64())
}
