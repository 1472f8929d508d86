package wire

// Cursor is a forward-only read position over a Body. It never modifies the
// segments it walks; partially consumed segments are tracked by offset.
type Cursor struct {
	segments  [][]byte
	index     int
	offset    int
	remaining int
}

// NewCursor returns a cursor at the start of b.
func NewCursor(b Body) *Cursor {
	c := &Cursor{segments: b.segments, remaining: b.Len()}
	c.skipEmpty()
	return c
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return c.remaining }

// Done reports whether every byte has been consumed.
func (c *Cursor) Done() bool { return c.remaining == 0 }

// Position returns the current segment index and offset within it.
func (c *Cursor) Position() (index, offset int) { return c.index, c.offset }

// Take consumes up to n bytes and returns them as sub-slices of the
// underlying segments, in order. The second result is the number of bytes
// actually taken; it is less than n only when the body ran out.
func (c *Cursor) Take(n int) ([][]byte, int) {
	var ranges [][]byte
	taken := 0
	for taken < n && c.remaining > 0 {
		seg := c.segments[c.index]
		avail := len(seg) - c.offset
		want := n - taken
		if want >= avail {
			// Segment fully consumed; move to the next one.
			ranges = append(ranges, seg[c.offset:len(seg):len(seg)])
			taken += avail
			c.remaining -= avail
			c.index++
			c.offset = 0
			c.skipEmpty()
			continue
		}
		end := c.offset + want
		ranges = append(ranges, seg[c.offset:end:end])
		taken += want
		c.remaining -= want
		c.offset = end
	}
	return ranges, taken
}

// TakeAll consumes every remaining byte.
func (c *Cursor) TakeAll() [][]byte {
	ranges, _ := c.Take(c.remaining)
	return ranges
}

// Peek copies up to n bytes from the cursor position without advancing it.
// It avoids a copy when the bytes lie within one segment.
func (c *Cursor) Peek(n int) []byte {
	if n > c.remaining {
		n = c.remaining
	}
	if n == 0 {
		return nil
	}
	seg := c.segments[c.index]
	if len(seg)-c.offset >= n {
		return seg[c.offset : c.offset+n : c.offset+n]
	}
	clone := *c
	ranges, _ := clone.Take(n)
	out := make([]byte, 0, n)
	for _, r := range ranges {
		out = append(out, r...)
	}
	return out
}

func (c *Cursor) skipEmpty() {
	for c.index < len(c.segments) && len(c.segments[c.index]) == 0 {
		c.index++
	}
}
