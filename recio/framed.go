package recio

import (
	"encoding/binary"
	"io"

	"github.com/grailbio/batchreader/fault"
)

const (
	frameAlignment = 4
	lengthBits     = 29
	lengthMask     = uint32(1)<<lengthBits - 1
	maxPayloadLen  = int(lengthMask)
)

// FramePreludeMagic is the fixed sentinel the framed segmenter expects in
// each frame's reserved prelude word. The prelude's full semantics are
// flagged as unconfirmed in the design notes pending validation against a
// reference corpus; until then this segmenter treats it purely as an
// opaque magic value and does not decode it further (see DESIGN.md).
const FramePreludeMagic uint32 = 0x52494f00 // "RIO\x00"

// ResyncPolicy controls how the framed segmenter reacts to a malformed
// frame header.
type ResyncPolicy int

const (
	// ResyncFatal reports a malformed header as a *fault.Framing fault and
	// stops reading the store. Default; matches "framing faults are
	// always fatal".
	ResyncFatal ResyncPolicy = iota
	// ResyncSkipToNextAlignment scans forward in 4-byte steps for the next
	// header that looks valid, rather than failing the epoch.
	ResyncSkipToNextAlignment
)

// FramedOpts configures NewFramedSegmenter.
type FramedOpts struct {
	Policy ResyncPolicy
}

type framedSegmenter struct {
	cur     *chunkCursor
	opts    FramedOpts
	storeID string
	pending *uint32 // a 4-byte word already read, reinterpreted as the next prelude candidate during resync
	done    bool
}

// NewFramedSegmenter returns a Segmenter implementing the RecordIO-family
// framed strategy over src: a reserved 32-bit prelude word, a 32-bit
// little-endian kind(3 bits, MSB)‖length(29 bits) header word, then length
// payload bytes padded to a 4-byte boundary.
func NewFramedSegmenter(src ChunkSource, storeID string, opts FramedOpts) Segmenter {
	return &framedSegmenter{cur: &chunkCursor{src: src}, opts: opts, storeID: storeID}
}

func (f *framedSegmenter) BytesConsumed() int64 { return f.cur.consumed }

func (f *framedSegmenter) readWord() (uint32, error) {
	s, err := f.cur.readExact(4)
	if err != nil {
		return 0, err
	}
	w := binary.LittleEndian.Uint32(s.Bytes())
	s.Release()
	return w, nil
}

func (f *framedSegmenter) Next() (Record, error) {
	for {
		if f.done {
			return Record{}, io.EOF
		}

		var prelude uint32
		var err error
		if f.pending != nil {
			prelude, f.pending = *f.pending, nil
		} else {
			prelude, err = f.readWord()
			if err == io.EOF {
				f.done = true
				return Record{}, io.EOF
			}
			if err == io.ErrUnexpectedEOF {
				return Record{}, fault.NewFraming(f.storeID, f.cur.consumed, "truncated frame prelude at end of stream")
			}
			if err != nil {
				return Record{}, err
			}
		}

		word, err := f.readWord()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Record{}, fault.NewFraming(f.storeID, f.cur.consumed, "truncated frame header at end of stream")
		}
		if err != nil {
			return Record{}, err
		}

		if prelude != FramePreludeMagic {
			if f.opts.Policy == ResyncSkipToNextAlignment {
				f.pending = &word
				continue
			}
			return Record{}, fault.NewFraming(f.storeID, f.cur.consumed, "bad frame prelude magic")
		}

		kind := Kind(word >> lengthBits)
		length := int(word & lengthMask)
		if kind > KindPadding {
			if f.opts.Policy == ResyncSkipToNextAlignment {
				continue
			}
			return Record{}, fault.NewFraming(f.storeID, f.cur.consumed, "reserved frame kind")
		}
		if length > maxPayloadLen {
			return Record{}, fault.NewFraming(f.storeID, f.cur.consumed, "payload length exceeds 29-bit field")
		}

		padded := alignUp(length, frameAlignment)
		body, err := f.cur.readExact(padded)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Record{}, fault.NewFraming(f.storeID, f.cur.consumed, "truncated frame payload at end of stream")
		}
		if err != nil {
			return Record{}, err
		}
		payload := body.Sub(0, length)
		body.Release()
		return Record{Kind: kind, Payload: payload}, nil
	}
}

func alignUp(n, align int) int {
	if rem := n % align; rem != 0 {
		return n + (align - rem)
	}
	return n
}
