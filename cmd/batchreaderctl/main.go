// batchreaderctl drives the batching pipeline over one or more local files
// from the command line, for manual testing and benchmarking of a format
// plugin.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/config"
	"github.com/grailbio/batchreader/decode"
	"github.com/grailbio/batchreader/formats/fixedrecord"
	"github.com/grailbio/batchreader/formats/tsv"
	"github.com/grailbio/batchreader/pipeline"
	"github.com/grailbio/batchreader/rlog"
	"github.com/grailbio/batchreader/store"
)

var (
	format       = flag.String("format", "tsv", "decoder: tsv or fixedrecord")
	batchSize    = flag.Int("batch-size", 32, "rows per batch")
	prefetch     = flag.Int("prefetch", 0, "num_prefetched_batches (0 = hardware concurrency)")
	workers      = flag.Int("workers", 0, "num_parallel_reads (0 = prefetch depth)")
	lastBatch    = flag.String("last-batch", "none", "none, drop, or pad")
	badBatch     = flag.String("bad-batch", "error", "error, skip, or warn")
	skip         = flag.Uint64("skip", 0, "num_instances_to_skip")
	limit        = flag.Uint64("limit", 0, "num_instances_to_read (0 = unbounded)")
	shardIndex   = flag.Int("shard-index", 0, "shard_index")
	numShards    = flag.Int("num-shards", 1, "num_shards")
	shuffle      = flag.Bool("shuffle", false, "enable shuffle_instances")
	shuffleWin   = flag.Int("shuffle-window", 0, "shuffle_window")
	subsample    = flag.Float64("subsample", 1, "subsample_ratio")
	fixedType    = flag.String("fixed-type", "float32", "fixedrecord element type: int64, float32, float64, uint8")
	fixedShape   = flag.String("fixed-shape", "1", "fixedrecord per-row shape, comma-separated dims")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: batchreaderctl [flags] path [path...]")
		os.Exit(2)
	}

	opts, err := buildOptions()
	if err != nil {
		rlog.Fatalf("batchreaderctl: %v", err)
	}
	decoder, err := buildDecoder()
	if err != nil {
		rlog.Fatalf("batchreaderctl: %v", err)
	}

	stores := make([]store.Store, flag.NArg())
	for i, path := range flag.Args() {
		stores[i] = store.NewFileStore(path, path)
	}

	reader, err := pipeline.New(stores, decoder, opts, rlog.DefaultSink{})
	if err != nil {
		rlog.Fatalf("batchreaderctl: %v", err)
	}

	numBatches, numRows := 0, 0
	for {
		ex, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rlog.Fatalf("batchreaderctl: %v", err)
		}
		numBatches++
		if len(ex.Tensors) > 0 {
			numRows += ex.Tensors[0].NumRows() - ex.Padding
		}
	}
	fmt.Printf("batches=%d rows=%d bytes_read=%d\n", numBatches, numRows, reader.NumBytesRead())
}

func buildOptions() (config.Options, error) {
	lb, err := parseLastBatch(*lastBatch)
	if err != nil {
		return config.Options{}, err
	}
	bb, err := parseBadBatch(*badBatch)
	if err != nil {
		return config.Options{}, err
	}
	var limitPtr *uint64
	if *limit > 0 {
		l := *limit
		limitPtr = &l
	}
	opts := config.Options{
		BatchSize:            *batchSize,
		NumPrefetchedBatches: *prefetch,
		NumParallelReads:     *workers,
		LastBatchHandling:    lb,
		BadBatchHandling:     bb,
		NumInstancesToSkip:   *skip,
		NumInstancesToRead:   limitPtr,
		ShardIndex:           *shardIndex,
		NumShards:            *numShards,
		ShuffleInstances:     *shuffle,
		ShuffleWindow:        *shuffleWin,
		SubsampleRatio:       *subsample,
	}
	if err := opts.Validate(); err != nil {
		return config.Options{}, err
	}
	return opts, nil
}

func parseLastBatch(s string) (batch.LastBatchPolicy, error) {
	switch s {
	case "none":
		return batch.LastBatchNone, nil
	case "drop":
		return batch.LastBatchDrop, nil
	case "pad":
		return batch.LastBatchPad, nil
	default:
		return 0, fmt.Errorf("unknown -last-batch %q", s)
	}
}

func parseBadBatch(s string) (decode.BadBatchPolicy, error) {
	switch s {
	case "error":
		return decode.BadBatchError, nil
	case "skip":
		return decode.BadBatchSkip, nil
	case "warn":
		return decode.BadBatchWarn, nil
	default:
		return 0, fmt.Errorf("unknown -bad-batch %q", s)
	}
}

func buildDecoder() (decode.Decoder, error) {
	switch *format {
	case "tsv":
		return &tsv.Decoder{}, nil
	case "fixedrecord":
		et, err := parseElementType(*fixedType)
		if err != nil {
			return nil, err
		}
		shape, err := parseShape(*fixedShape)
		if err != nil {
			return nil, err
		}
		return fixedrecord.Decoder{Name: "value", Type: et, Shape: shape}, nil
	default:
		return nil, fmt.Errorf("unknown -format %q", *format)
	}
}

func parseElementType(s string) (batch.ElementType, error) {
	switch s {
	case "int64":
		return batch.Int64, nil
	case "float32":
		return batch.Float32, nil
	case "float64":
		return batch.Float64, nil
	case "uint8":
		return batch.Uint8, nil
	default:
		return 0, fmt.Errorf("unknown -fixed-type %q", s)
	}
}

func parseShape(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		n := 0
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &n); err != nil {
			return nil, fmt.Errorf("bad -fixed-shape %q: %v", s, err)
		}
		shape[i] = n
	}
	return shape, nil
}
