// Package fixedrecord implements D1, a decoder for dense numeric dumps:
// every store is a flat sequence of equal-sized rows of a single element
// type and shape, with no per-record framing at all.
package fixedrecord

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/instream"
	"github.com/grailbio/batchreader/recio"
)

// Decoder decodes fixed-width numeric rows of Type and Shape (the
// per-row shape, excluding the batch dimension) into flat tensors.
type Decoder struct {
	Name string
	Type batch.ElementType
	Shape []int
}

// rowBytes returns the byte width of one row.
func (d Decoder) rowBytes() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	switch d.Type {
	case batch.Int64, batch.Float64:
		return n * 8
	case batch.Float32:
		return n * 4
	case batch.Uint8:
		return n
	default:
		return 0
	}
}

// MakeRecordReader implements decode.Decoder: every store is segmented
// into fixed-size rows, each row becoming one instance.
func (d Decoder) MakeRecordReader(storeID string, src recio.ChunkSource) (recio.Segmenter, error) {
	n := d.rowBytes()
	if n <= 0 {
		return nil, fmt.Errorf("fixedrecord: zero-size row for type %s shape %v", d.Type, d.Shape)
	}
	return recio.NewFixedSizeSegmenter(src, storeID, n), nil
}

// InferSchema returns the fixed, configured schema; it does not actually
// need to inspect first, since the row layout is static configuration
// rather than inferred from data.
func (d Decoder) InferSchema(first instream.Instance) (batch.Schema, error) {
	return batch.Schema{Attributes: []batch.Attribute{{Name: d.Name, Type: d.Type, Shape: d.Shape}}}, nil
}

// Decode packs one batch's rows into a single tensor.
func (d Decoder) Decode(desc batch.Descriptor) (batch.Example, error) {
	rows := len(desc.Instances)
	shape := append([]int{rows}, d.Shape...)
	t := batch.Tensor{Name: d.Name, Type: d.Type, Shape: shape}

	perRow := elemsPerRow(d.Shape)
	rowWidth := d.rowBytes()

	switch d.Type {
	case batch.Int64:
		t.Int64Data = make([]int64, 0, rows*perRow)
		for _, inst := range desc.Instances {
			appendInt64s(&t.Int64Data, rowOrZeros(inst, rowWidth))
		}
	case batch.Float32:
		t.Float32Data = make([]float32, 0, rows*perRow)
		for _, inst := range desc.Instances {
			appendFloat32s(&t.Float32Data, rowOrZeros(inst, rowWidth))
		}
	case batch.Float64:
		t.Float64Data = make([]float64, 0, rows*perRow)
		for _, inst := range desc.Instances {
			appendFloat64s(&t.Float64Data, rowOrZeros(inst, rowWidth))
		}
	case batch.Uint8:
		t.Uint8Data = make([]uint8, 0, rows*rowWidth)
		for _, inst := range desc.Instances {
			t.Uint8Data = append(t.Uint8Data, rowOrZeros(inst, rowWidth)...)
		}
	default:
		return batch.Example{}, fmt.Errorf("fixedrecord: unsupported element type %s", d.Type)
	}
	return batch.Example{Tensors: []batch.Tensor{t}}, nil
}

// rowOrZeros returns inst's raw row bytes, or a zero-filled row of width
// bytes for a synthetic padding instance (empty payload).
func rowOrZeros(inst instream.Instance, width int) []byte {
	if inst.Payload.Len() == 0 {
		return make([]byte, width)
	}
	return inst.Payload.Bytes()
}

func elemsPerRow(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func appendInt64s(dst *[]int64, b []byte) {
	for i := 0; i+8 <= len(b); i += 8 {
		*dst = append(*dst, int64(binary.LittleEndian.Uint64(b[i:i+8])))
	}
}

func appendFloat32s(dst *[]float32, b []byte) {
	for i := 0; i+4 <= len(b); i += 4 {
		*dst = append(*dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i:i+4])))
	}
}

func appendFloat64s(dst *[]float64, b []byte) {
	for i := 0; i+8 <= len(b); i += 8 {
		*dst = append(*dst, math.Float64frombits(binary.LittleEndian.Uint64(b[i:i+8])))
	}
}
