package tsv

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/instream"
	"github.com/grailbio/batchreader/recio"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	data []byte
	off  int
	step int
}

func (m *memSource) Pull() (recio.Chunk, error) {
	if m.off >= len(m.data) {
		return recio.Chunk{}, io.EOF
	}
	step := m.step
	if step <= 0 || m.off+step > len(m.data) {
		step = len(m.data) - m.off
	}
	buf := append([]byte(nil), m.data[m.off:m.off+step]...)
	m.off += step
	return recio.Chunk{Data: recio.NewSlice(recio.NewArena(buf, false))}, nil
}

// buildFrame constructs one RecordIO-family frame: the reserved prelude
// word, the kind/length header word, and the payload padded to 4 bytes.
func buildFrame(kind recio.Kind, payload string) []byte {
	p := []byte(payload)
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], recio.FramePreludeMagic)
	word := uint32(kind)<<29 | uint32(len(p))
	binary.LittleEndian.PutUint32(header[4:8], word)
	padded := len(p)
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}
	out := append([]byte(nil), header[:]...)
	out = append(out, p...)
	out = append(out, make([]byte, padded-len(p))...)
	return out
}

func TestHeaderCaptureSkipsHeaderAndNamesColumns(t *testing.T) {
	var data []byte
	data = append(data, buildFrame(recio.KindHeader, "name\tage")...)
	data = append(data, buildFrame(recio.KindData, "alice\t30")...)

	d := &Decoder{}
	seg, err := d.MakeRecordReader("s0", &memSource{data: data, step: 3})
	require.NoError(t, err)

	rec, err := seg.Next()
	require.NoError(t, err)
	require.Equal(t, recio.KindData, rec.Kind)
	require.Equal(t, "alice\t30", string(rec.Payload.Bytes()))
	rec.Payload.Release()

	_, err = seg.Next()
	require.Equal(t, io.EOF, err)

	require.Equal(t, []string{"name", "age"}, d.columnsFor("s0"))
}

func TestInferSchemaUsesCapturedHeader(t *testing.T) {
	d := &Decoder{}
	d.setColumns("s0", []string{"name", "age"})
	inst := instream.Instance{StoreID: "s0", Payload: recio.NewSlice(recio.NewArena([]byte("alice\t30"), false))}
	schema, err := d.InferSchema(inst)
	require.NoError(t, err)
	require.Equal(t, "name", schema.Attributes[0].Name)
	require.Equal(t, "age", schema.Attributes[1].Name)
}

func TestDecodeSplitsColumns(t *testing.T) {
	d := &Decoder{}
	d.setColumns("s0", []string{"name", "age"})
	mk := func(s string) instream.Instance {
		return instream.Instance{StoreID: "s0", Payload: recio.NewSlice(recio.NewArena([]byte(s), false))}
	}
	desc := batch.Descriptor{Instances: []instream.Instance{mk("alice\t30"), mk("bob\t40")}}
	ex, err := d.Decode(desc)
	require.NoError(t, err)
	require.Len(t, ex.Tensors, 2)
	require.Equal(t, "name", ex.Tensors[0].Name)
	require.Equal(t, [][]byte{[]byte("alice"), []byte("bob")}, ex.Tensors[0].BytesData)
	require.Equal(t, [][]byte{[]byte("30"), []byte("40")}, ex.Tensors[1].BytesData)
}
