package wire

import (
	"errors"
	"io"
)

// DefaultChunkSize is the segment size used when reading request bodies.
const DefaultChunkSize = 64 << 10

// Body is an ordered list of immutable byte segments. The segments are
// never modified by this package; derived views reslice them.
type Body struct {
	segments [][]byte
}

// NewBody creates a body over the given segments without copying them.
func NewBody(segments ...[]byte) Body {
	return Body{segments: segments}
}

// Segments returns the body segments.
func (b Body) Segments() [][]byte { return b.segments }

// Len returns the total number of bytes in the body.
func (b Body) Len() int {
	n := 0
	for _, s := range b.segments {
		n += len(s)
	}
	return n
}

// lastSegment returns the final non-empty segment and its index.
func (b Body) lastSegment() ([]byte, int) {
	for i := len(b.segments) - 1; i >= 0; i-- {
		if len(b.segments[i]) > 0 {
			return b.segments[i], i
		}
	}
	return nil, -1
}

// withoutTail returns a view of b with the last n bytes of segment idx
// hidden. Segments after idx are dropped; they are empty by construction.
func (b Body) withoutTail(idx, n int) Body {
	segs := make([][]byte, idx+1)
	copy(segs, b.segments[:idx+1])
	last := segs[idx]
	segs[idx] = last[: len(last)-n : len(last)-n]
	return Body{segments: segs}
}

// ReadBody reads r to EOF into segments of at most chunkSize bytes. A
// chunkSize <= 0 selects DefaultChunkSize.
func ReadBody(r io.Reader, chunkSize int) (Body, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var segs [][]byte
	for {
		chunk := make([]byte, chunkSize)
		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			segs = append(segs, chunk[:n:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Body{segments: segs}, nil
		}
		if err != nil {
			return Body{}, err
		}
	}
}
