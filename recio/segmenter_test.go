package recio

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/grailbio/batchreader/fault"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed byte buffer as chunks of at most chunkSize
// bytes, simulating store.Cursor's cursorSource without depending on the
// store package.
type fakeSource struct {
	data      []byte
	chunkSize int
	off       int
}

func (f *fakeSource) Pull() (Chunk, error) {
	if f.off >= len(f.data) {
		return Chunk{}, io.EOF
	}
	end := f.off + f.chunkSize
	if end > len(f.data) {
		end = len(f.data)
	}
	buf := append([]byte(nil), f.data[f.off:end]...)
	off := f.off
	f.off = end
	return Chunk{Data: NewSlice(NewArena(buf, false)), Offset: int64(off)}, nil
}

func buildFrame(kind Kind, payload []byte) []byte {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], FramePreludeMagic)
	word := uint32(kind)<<lengthBits | uint32(len(payload))
	binary.LittleEndian.PutUint32(header[4:8], word)
	padded := alignUp(len(payload), frameAlignment)
	out := make([]byte, 0, 8+padded)
	out = append(out, header[:]...)
	out = append(out, payload...)
	out = append(out, make([]byte, padded-len(payload))...)
	return out
}

func TestFramedSegmenterRoundTrip(t *testing.T) {
	var data []byte
	data = append(data, buildFrame(KindHeader, []byte("col1\tcol2"))...)
	data = append(data, buildFrame(KindData, []byte("abc"))...)
	data = append(data, buildFrame(KindData, []byte(""))...)

	for _, chunkSize := range []int{1024, 5, 1} {
		src := &fakeSource{data: data, chunkSize: chunkSize}
		seg := NewFramedSegmenter(src, "store0", FramedOpts{Policy: ResyncFatal})

		rec, err := seg.Next()
		require.NoError(t, err)
		require.Equal(t, KindHeader, rec.Kind)
		require.Equal(t, "col1\tcol2", string(rec.Payload.Bytes()))
		rec.Payload.Release()

		rec, err = seg.Next()
		require.NoError(t, err)
		require.Equal(t, KindData, rec.Kind)
		require.Equal(t, "abc", string(rec.Payload.Bytes()))
		rec.Payload.Release()

		rec, err = seg.Next()
		require.NoError(t, err)
		require.Equal(t, KindData, rec.Kind)
		require.Equal(t, 0, rec.Payload.Len())
		rec.Payload.Release()

		_, err = seg.Next()
		require.Equal(t, io.EOF, err)
	}
}

func TestFramedSegmenterBadPreludeFatal(t *testing.T) {
	data := append([]byte{0xde, 0xad, 0xbe, 0xef}, buildFrame(KindData, []byte("x"))...)
	src := &fakeSource{data: data, chunkSize: 1024}
	seg := NewFramedSegmenter(src, "store0", FramedOpts{Policy: ResyncFatal})
	_, err := seg.Next()
	require.Error(t, err)
}

func TestFramedSegmenterResyncSkips(t *testing.T) {
	var data []byte
	data = append(data, 0xde, 0xad, 0xbe, 0xef) // garbage, not aligned to a real frame
	data = append(data, buildFrame(KindData, []byte("real"))...)
	src := &fakeSource{data: data, chunkSize: 3}
	seg := NewFramedSegmenter(src, "store0", FramedOpts{Policy: ResyncSkipToNextAlignment})

	rec, err := seg.Next()
	require.NoError(t, err)
	require.Equal(t, "real", string(rec.Payload.Bytes()))
	rec.Payload.Release()

	_, err = seg.Next()
	require.Equal(t, io.EOF, err)
}

func TestWholeStoreSegmenterSingleAndMultiChunk(t *testing.T) {
	content := []byte("the entire store content")
	for _, chunkSize := range []int{1024, 4} {
		src := &fakeSource{data: content, chunkSize: chunkSize}
		seg := NewWholeStoreSegmenter(src)
		rec, err := seg.Next()
		require.NoError(t, err)
		require.Equal(t, KindData, rec.Kind)
		require.Equal(t, string(content), string(rec.Payload.Bytes()))
		rec.Payload.Release()

		_, err = seg.Next()
		require.Equal(t, io.EOF, err)
	}
}

func TestFixedSizeSegmenter(t *testing.T) {
	content := []byte("aaaabbbbcccc")
	src := &fakeSource{data: content, chunkSize: 5}
	seg := NewFixedSizeSegmenter(src, "s0", 4)

	var got []string
	for {
		rec, err := seg.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(rec.Payload.Bytes()))
		rec.Payload.Release()
	}
	require.Equal(t, []string{"aaaa", "bbbb", "cccc"}, got)
}

func TestFixedSizeSegmenterTruncatedTail(t *testing.T) {
	content := []byte("aaaabb")
	src := &fakeSource{data: content, chunkSize: 1024}
	seg := NewFixedSizeSegmenter(src, "s0", 4)

	rec, err := seg.Next()
	require.NoError(t, err)
	require.Equal(t, "aaaa", string(rec.Payload.Bytes()))
	rec.Payload.Release()

	_, err = seg.Next()
	var framingErr *fault.Framing
	require.ErrorAs(t, err, &framingErr)
	require.Equal(t, "s0", framingErr.StoreID)
}
