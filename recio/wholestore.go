package recio

import "io"

// wholeStoreSegmenter implements the whole-store strategy: the entire
// stream of a store becomes exactly one KindData record. It is meant for
// self-framed formats (a single image per store, for example) where the
// format-specific decoder does its own internal parsing of the payload.
//
// When the store's contents fit in a single chunk pulled from src (the
// common case: chunk size is chosen to comfortably exceed a typical
// whole-store record), the record's payload is a zero-copy subslice of
// that chunk's arena. If a store spans more than one chunk, the chunks are
// concatenated into one owned buffer; this is the one deliberate exception
// to the segmenter's no-copy contract, since a single logical record
// cannot be represented as a view over two disjoint arenas.
type wholeStoreSegmenter struct {
	src      ChunkSource
	consumed int64
	done     bool
}

// NewWholeStoreSegmenter returns a Segmenter implementing the whole-store
// strategy over src.
func NewWholeStoreSegmenter(src ChunkSource) Segmenter {
	return &wholeStoreSegmenter{src: src}
}

func (w *wholeStoreSegmenter) BytesConsumed() int64 { return w.consumed }

func (w *wholeStoreSegmenter) Next() (Record, error) {
	if w.done {
		return Record{}, io.EOF
	}
	w.done = true

	first, err := w.src.Pull()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, err
	}
	w.consumed += int64(first.Data.Len())

	chunks := []Chunk{first}
	for {
		next, err := w.src.Pull()
		if err == io.EOF {
			break
		}
		if err != nil {
			for _, c := range chunks {
				c.Data.Release()
			}
			return Record{}, err
		}
		w.consumed += int64(next.Data.Len())
		chunks = append(chunks, next)
	}

	if len(chunks) == 1 {
		return Record{Kind: KindData, Payload: chunks[0].Data}, nil
	}

	total := 0
	for _, c := range chunks {
		total += c.Data.Len()
	}
	buf := GetBuffer(total)
	pos := 0
	for _, c := range chunks {
		pos += copy(buf[pos:], c.Data.Bytes())
		c.Data.Release()
	}
	return Record{Kind: KindData, Payload: NewSlice(NewArena(buf, true))}, nil
}
