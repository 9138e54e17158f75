// Package tsv implements D2, a decoder for framed tab-separated-value
// streams: each store is a RecordIO-framed sequence of one optional
// header frame followed by one data frame per row.
package tsv

import (
	"bytes"
	"strconv"
	"sync"

	"github.com/grailbio/batchreader/batch"
	"github.com/grailbio/batchreader/instream"
	"github.com/grailbio/batchreader/recio"
)

// Decoder decodes framed TSV rows into a single Bytes-typed tensor per
// column. Policy governs how the underlying framed segmenter handles a
// corrupt header.
type Decoder struct {
	Policy recio.ResyncPolicy

	mu      sync.Mutex
	columns map[string][]string // storeID -> header column names, if seen
}

// MakeRecordReader wraps the framed segmenter in a header-capturing shim:
// a header frame, if present, is parsed for column names and then
// discarded: instream drops every non-data frame regardless, so capturing
// the names here is the only chance to observe them.
func (d *Decoder) MakeRecordReader(storeID string, src recio.ChunkSource) (recio.Segmenter, error) {
	inner := recio.NewFramedSegmenter(src, storeID, recio.FramedOpts{Policy: d.Policy})
	return &headerCapture{inner: inner, storeID: storeID, d: d}, nil
}

// InferSchema names columns generically from the first row's field count,
// using captured header names when available for the row's store.
func (d *Decoder) InferSchema(first instream.Instance) (batch.Schema, error) {
	names := d.columnsFor(first.StoreID)
	fields := bytes.Split(first.Payload.Bytes(), []byte("\t"))
	attrs := make([]batch.Attribute, len(fields))
	for i := range fields {
		name := columnName(names, i)
		attrs[i] = batch.Attribute{Name: name, Type: batch.Bytes}
	}
	return batch.Schema{Attributes: attrs}, nil
}

// Decode splits each instance's payload on tab and packs column i across
// all rows into tensor i's BytesData. A padding (empty-payload) instance
// contributes an empty field to every column.
func (d *Decoder) Decode(desc batch.Descriptor) (batch.Example, error) {
	numCols := 0
	for _, inst := range desc.Instances {
		if inst.Payload.Len() == 0 {
			continue
		}
		if n := bytes.Count(inst.Payload.Bytes(), []byte("\t")) + 1; n > numCols {
			numCols = n
		}
	}
	if numCols == 0 {
		numCols = 1
	}

	names := d.columnsFor(storeIDOf(desc))
	tensors := make([]batch.Tensor, numCols)
	for i := range tensors {
		tensors[i] = batch.Tensor{
			Name:      columnName(names, i),
			Type:      batch.Bytes,
			Shape:     []int{len(desc.Instances)},
			BytesData: make([][]byte, 0, len(desc.Instances)),
		}
	}

	for _, inst := range desc.Instances {
		var fields [][]byte
		if inst.Payload.Len() > 0 {
			fields = bytes.Split(inst.Payload.Bytes(), []byte("\t"))
		}
		for i := range tensors {
			var v []byte
			if i < len(fields) {
				v = append([]byte(nil), fields[i]...)
			}
			tensors[i].BytesData = append(tensors[i].BytesData, v)
		}
	}
	return batch.Example{Tensors: tensors}, nil
}

func storeIDOf(desc batch.Descriptor) string {
	for _, inst := range desc.Instances {
		if inst.Payload.Len() > 0 {
			return inst.StoreID
		}
	}
	return ""
}

func columnName(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return "field_" + strconv.Itoa(i)
}

func (d *Decoder) columnsFor(storeID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.columns[storeID]
}

func (d *Decoder) setColumns(storeID string, cols []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.columns == nil {
		d.columns = make(map[string][]string)
	}
	d.columns[storeID] = cols
}

// headerCapture forwards Next from inner, intercepting and parsing the
// first header frame (if any) into the owning Decoder's column map rather
// than passing it downstream.
type headerCapture struct {
	inner   recio.Segmenter
	storeID string
	d       *Decoder
	seen    bool
}

func (h *headerCapture) BytesConsumed() int64 { return h.inner.BytesConsumed() }

func (h *headerCapture) Next() (recio.Record, error) {
	for {
		rec, err := h.inner.Next()
		if err != nil {
			return recio.Record{}, err
		}
		if !h.seen && rec.Kind == recio.KindHeader {
			h.seen = true
			cols := splitColumns(rec.Payload.Bytes())
			h.d.setColumns(h.storeID, cols)
			rec.Payload.Release()
			continue
		}
		h.seen = true
		return rec, nil
	}
}

func splitColumns(b []byte) []string {
	parts := bytes.Split(b, []byte("\t"))
	cols := make([]string, len(parts))
	for i, p := range parts {
		cols[i] = string(p)
	}
	return cols
}
