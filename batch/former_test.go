package batch

import (
	"io"
	"testing"

	"github.com/grailbio/batchreader/instream"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	n   int
	pos int
}

func (s *sliceSource) Next() (instream.Instance, error) {
	if s.pos >= s.n {
		return instream.Instance{}, io.EOF
	}
	s.pos++
	return instream.Instance{Ordinal: uint64(s.pos - 1)}, nil
}

func TestFormerEvenSplit(t *testing.T) {
	f := NewFormer(&sliceSource{n: 10}, 5, LastBatchNone)
	var sizes []int
	var finals []bool
	for {
		d, err := f.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(d.Instances))
		finals = append(finals, d.IsFinal)
	}
	require.Equal(t, []int{5, 5}, sizes)
	require.Equal(t, []bool{false, true}, finals)
}

func TestFormerLastBatchNone(t *testing.T) {
	f := NewFormer(&sliceSource{n: 17}, 5, LastBatchNone)
	var sizes []int
	for {
		d, err := f.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(d.Instances))
	}
	require.Equal(t, []int{5, 5, 5, 2}, sizes)
}

func TestFormerLastBatchDrop(t *testing.T) {
	f := NewFormer(&sliceSource{n: 17}, 5, LastBatchDrop)
	var sizes []int
	for {
		d, err := f.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(d.Instances))
	}
	require.Equal(t, []int{5, 5, 5}, sizes)
}

func TestFormerLastBatchPad(t *testing.T) {
	f := NewFormer(&sliceSource{n: 17}, 5, LastBatchPad)
	var last Descriptor
	for {
		d, err := f.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, d.Instances, 5)
		last = d
	}
	require.True(t, last.IsFinal)
	require.Equal(t, 3, last.PaddingCount)
}

func TestFormerBatchIndicesAreContiguous(t *testing.T) {
	f := NewFormer(&sliceSource{n: 23}, 5, LastBatchPad)
	var idx uint64
	for {
		d, err := f.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, idx, d.BatchIndex)
		idx++
	}
}

func TestFormerEmptySource(t *testing.T) {
	f := NewFormer(&sliceSource{n: 0}, 5, LastBatchPad)
	_, err := f.Next()
	require.Equal(t, io.EOF, err)
}
