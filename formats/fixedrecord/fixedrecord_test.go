package fixedrecord

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/instream"
	"github.com/grailbio/batchreader/recio"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	data []byte
	off  int
}

func (m *memSource) Pull() (recio.Chunk, error) {
	if m.off >= len(m.data) {
		return recio.Chunk{}, io.EOF
	}
	buf := append([]byte(nil), m.data[m.off:]...)
	m.off = len(m.data)
	return recio.Chunk{Data: recio.NewSlice(recio.NewArena(buf, false))}, nil
}

func TestMakeRecordReaderSplitsRows(t *testing.T) {
	d := Decoder{Name: "v", Type: batch.Float32, Shape: []int{2}}
	var data []byte
	for _, f := range []float32{1, 2, 3, 4} {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		data = append(data, buf[:]...)
	}
	seg, err := d.MakeRecordReader("s0", &memSource{data: data})
	require.NoError(t, err)

	var rows int
	for {
		rec, err := seg.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 8, rec.Payload.Len())
		rec.Payload.Release()
		rows++
	}
	require.Equal(t, 2, rows)
}

func TestDecodePacksRowsIntoTensor(t *testing.T) {
	d := Decoder{Name: "v", Type: batch.Int64}
	mk := func(v int64) instream.Instance {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		return instream.Instance{Payload: recio.NewSlice(recio.NewArena(buf[:], false))}
	}
	desc := batch.Descriptor{Instances: []instream.Instance{mk(10), mk(20), mk(30)}}
	ex, err := d.Decode(desc)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20, 30}, ex.Tensors[0].Int64Data)
	require.Equal(t, []int{3}, ex.Tensors[0].Shape)
}

func TestDecodePaddingRowsAreZero(t *testing.T) {
	d := Decoder{Name: "v", Type: batch.Int64}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 5)
	real := instream.Instance{Payload: recio.NewSlice(recio.NewArena(buf[:], false))}
	pad := instream.Instance{}
	desc := batch.Descriptor{Instances: []instream.Instance{real, pad, pad}, PaddingCount: 2}
	ex, err := d.Decode(desc)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 0, 0}, ex.Tensors[0].Int64Data)
}

func TestInferSchemaReturnsConfiguredLayout(t *testing.T) {
	d := Decoder{Name: "pixels", Type: batch.Uint8, Shape: []int{28, 28}}
	schema, err := d.InferSchema(instream.Instance{})
	require.NoError(t, err)
	require.Equal(t, "pixels", schema.Attributes[0].Name)
	require.Equal(t, []int{28, 28}, schema.Attributes[0].Shape)
}
