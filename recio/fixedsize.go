package recio

import (
	"io"

	"github.com/grailbio/batchreader/fault"
)

// fixedSizeSegmenter implements a third C2 strategy alongside whole-store
// and framed: the stream is a flat sequence of equal-sized rows with no
// per-record header at all, as produced by dense numeric dumps. Each
// record is exactly recordSize bytes; a trailing partial row is treated as
// truncation, reported as a *fault.Framing the same way the framed
// strategy reports a truncated payload.
type fixedSizeSegmenter struct {
	cur        *chunkCursor
	storeID    string
	recordSize int
}

// NewFixedSizeSegmenter returns a Segmenter that reads recordSize-byte
// records with no framing overhead.
func NewFixedSizeSegmenter(src ChunkSource, storeID string, recordSize int) Segmenter {
	return &fixedSizeSegmenter{cur: &chunkCursor{src: src}, storeID: storeID, recordSize: recordSize}
}

func (f *fixedSizeSegmenter) BytesConsumed() int64 { return f.cur.consumed }

func (f *fixedSizeSegmenter) Next() (Record, error) {
	body, err := f.cur.readExact(f.recordSize)
	if err == io.ErrUnexpectedEOF {
		return Record{}, fault.NewFraming(f.storeID, f.cur.consumed, "truncated fixed-size record at end of stream")
	}
	if err != nil {
		return Record{}, err
	}
	return Record{Kind: KindData, Payload: body}, nil
}
