package pipeline

import (
	"context"
	"io"

	"github.com/grailbio/batchreader/decode"
	"github.com/grailbio/batchreader/fault"
	"github.com/grailbio/batchreader/recio"
	"github.com/grailbio/batchreader/store"
)

// recordSource is the C1+C2 glue: it walks the store cursor store by
// store, asking the decoder to build a fresh segmenter for each one, and
// exposes the concatenation as a flat instream.Source. It owns closing
// each store's stream once its segmenter reaches EOF.
type recordSource struct {
	ctx     context.Context
	cursor  *store.Cursor
	decoder decode.Decoder

	seg     recio.Segmenter
	storeID string
}

func newRecordSource(ctx context.Context, cursor *store.Cursor, decoder decode.Decoder) *recordSource {
	return &recordSource{ctx: ctx, cursor: cursor, decoder: decoder}
}

// Next implements instream.Source.
func (r *recordSource) Next() (recio.Record, string, error) {
	for {
		if r.seg == nil {
			s, src, ok, err := r.cursor.NextStore(r.ctx)
			if err != nil {
				return recio.Record{}, "", err
			}
			if !ok {
				return recio.Record{}, "", io.EOF
			}
			seg, err := r.decoder.MakeRecordReader(s.ID(), src)
			if err != nil {
				return recio.Record{}, "", fault.NewIO(s.ID(), 0, err)
			}
			r.seg = seg
			r.storeID = s.ID()
		}

		rec, err := r.seg.Next()
		if err == io.EOF {
			if cerr := r.cursor.CloseActive(); cerr != nil {
				return recio.Record{}, "", fault.NewIO(r.storeID, r.seg.BytesConsumed(), cerr)
			}
			r.seg = nil
			continue
		}
		if err != nil {
			return recio.Record{}, "", err
		}
		return rec, r.storeID, nil
	}
}
