// Package batch implements C4 (grouping instances into fixed-size
// batches) and the Schema/Example/Tensor data model shared by the decode
// pool and the controller.
package batch

import "github.com/grailbio/batchreader/instream"

// ElementType is the element type of one tensor column.
type ElementType int

const (
	Int64 ElementType = iota
	Float32
	Float64
	Uint8
	// Bytes is a variable-length byte-string column: one []byte per row
	// rather than a flat numeric buffer.
	Bytes
)

func (t ElementType) String() string {
	switch t {
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Uint8:
		return "uint8"
	case Bytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Attribute describes one named tensor in a Schema: its element type and
// its shape excluding the leading (row) dimension.
type Attribute struct {
	Name  string
	Type  ElementType
	Shape []int
}

// Schema is the ordered list of attributes inferred once from the first
// non-empty instance and held immutable thereafter. Any decoded Example
// whose tensor shapes disagree with the Schema is a fatal error
// (fault.SchemaMismatch).
type Schema struct {
	Attributes []Attribute
}

// Tensor is one named, typed column of a decoded Example. Exactly one of
// the *Data slices is populated, selected by Type. Shape's leading
// dimension equals the batch's row count (B, or the short/padded count
// per the last-batch policy).
type Tensor struct {
	Name  string
	Type  ElementType
	Shape []int

	Int64Data   []int64
	Float32Data []float32
	Float64Data []float64
	Uint8Data   []uint8
	BytesData   [][]byte
}

// NumRows returns Shape[0], or 0 for a tensor with no shape.
func (t Tensor) NumRows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Example is the decoded output of one batch: an ordered collection of
// named tensors plus the count of trailing rows that are synthetic zeros
// under the pad last-batch policy.
type Example struct {
	Tensors []Tensor
	Padding int
}

// Descriptor is C4's output: a batch of instances tagged with a
// monotonically increasing index. PaddingCount is nonzero only for a
// final batch emitted under the pad last-batch policy, and counts the
// trailing synthetic (zero-value) instances appended to reach B.
type Descriptor struct {
	BatchIndex   uint64
	Instances    []instream.Instance
	IsFinal      bool
	PaddingCount int
}
