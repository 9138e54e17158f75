package pipeline

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/config"
	"github.com/grailbio/batchreader/decode"
	"github.com/grailbio/batchreader/formats/fixedrecord"
	"github.com/grailbio/batchreader/store"
	"github.com/stretchr/testify/require"
)

func int64Rows(start, n int64) []byte {
	buf := make([]byte, 8*n)
	for i := int64(0); i < n; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(start+i))
	}
	return buf
}

func newIntDecoder() decode.Decoder {
	return fixedrecord.Decoder{Name: "v", Type: batch.Int64}
}

func collectAll(t *testing.T, r *Reader) ([]int64, error) {
	var out []int64
	for {
		ex, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		for i, v := range ex.Tensors[0].Int64Data {
			// Exclude padding rows (zero-valued and beyond the real count).
			if i >= len(ex.Tensors[0].Int64Data)-ex.Padding {
				continue
			}
			out = append(out, v)
		}
	}
}

func twoStoreOpts(batchSize int, lastBatch batch.LastBatchPolicy) config.Options {
	return config.Options{
		BatchSize:         batchSize,
		LastBatchHandling: lastBatch,
		BadBatchHandling:  decode.BadBatchError,
		NumShards:         1,
		SubsampleRatio:    1,
	}
}

func twoStores() []store.Store {
	return []store.Store{
		store.NewBlobStore("s0", int64Rows(0, 10)),
		store.NewBlobStore("s1", int64Rows(10, 7)),
	}
}

func TestPipelineOrderingAndBatchSizes(t *testing.T) {
	r, err := New(twoStores(), newIntDecoder(), twoStoreOpts(5, batch.LastBatchNone), nil)
	require.NoError(t, err)

	var sizes []int
	var all []int64
	for {
		ex, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, ex.Tensors[0].NumRows())
		all = append(all, ex.Tensors[0].Int64Data...)
	}
	require.Equal(t, []int{5, 5, 5, 2}, sizes)

	want := make([]int64, 17)
	for i := range want {
		want[i] = int64(i)
	}
	require.Equal(t, want, all)
}

func TestPipelineLastBatchPad(t *testing.T) {
	r, err := New(twoStores(), newIntDecoder(), twoStoreOpts(5, batch.LastBatchPad), nil)
	require.NoError(t, err)

	var last batch.Example
	for {
		ex, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 5, ex.Tensors[0].NumRows())
		last = ex
	}
	require.Equal(t, 3, last.Padding)
}

func TestPipelineShardingPartition(t *testing.T) {
	const k = 4
	seen := map[int64]int{}
	for shard := 0; shard < k; shard++ {
		opts := twoStoreOpts(3, batch.LastBatchNone)
		opts.ShardIndex = shard
		opts.NumShards = k
		r, err := New(twoStores(), newIntDecoder(), opts, nil)
		require.NoError(t, err)
		vals, err := collectAll(t, r)
		require.NoError(t, err)
		for _, v := range vals {
			seen[v]++
		}
	}
	require.Len(t, seen, 17)
	for v, c := range seen {
		require.Equalf(t, 1, c, "value %d observed %d times across shards", v, c)
	}
}

func TestPipelineDeterminismWithFixedSeed(t *testing.T) {
	opts := twoStoreOpts(4, batch.LastBatchNone)
	opts.ShuffleInstances = true
	opts.ShuffleWindow = 5
	opts.ShuffleSeed = 1234
	opts.ShuffleSeedIsSet = true

	r1, err := New(twoStores(), newIntDecoder(), opts, nil)
	require.NoError(t, err)
	got1, err := collectAll(t, r1)
	require.NoError(t, err)

	r2, err := New(twoStores(), newIntDecoder(), opts, nil)
	require.NoError(t, err)
	got2, err := collectAll(t, r2)
	require.NoError(t, err)

	require.Equal(t, got1, got2)
}

func TestPipelineResetReplaysIdenticalSequence(t *testing.T) {
	opts := twoStoreOpts(4, batch.LastBatchNone)
	opts.ShuffleInstances = true
	opts.ShuffleWindow = 5
	opts.ShuffleSeed = 99
	opts.ShuffleSeedIsSet = true
	opts.ReshuffleEachEpoch = false

	r, err := New(twoStores(), newIntDecoder(), opts, nil)
	require.NoError(t, err)

	epoch1, err := collectAll(t, r)
	require.NoError(t, err)

	r.Reset()
	require.Equal(t, StateIdle, r.State())

	epoch2, err := collectAll(t, r)
	require.NoError(t, err)

	require.Equal(t, epoch1, epoch2)
}

func TestPipelineConfigurationErrorRejectedAtConstruction(t *testing.T) {
	opts := twoStoreOpts(0, batch.LastBatchNone)
	_, err := New(twoStores(), newIntDecoder(), opts, nil)
	require.Error(t, err)
}

func TestPipelineResetDuringInFlightEpochIsSafe(t *testing.T) {
	big := []store.Store{store.NewBlobStore("s0", int64Rows(0, 5000))}
	opts := twoStoreOpts(8, batch.LastBatchNone)
	r, err := New(big, newIntDecoder(), opts, nil)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)

	r.Reset()
	require.Equal(t, StateIdle, r.State())

	// A fresh epoch should start cleanly from the beginning.
	ex, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, int64(0), ex.Tensors[0].Int64Data[0])
}
