package framebank

import "time"

// Cursor is a lazy, restartable iterator over a time range of one source's
// frames. It holds no lock between calls: each Next re-enters the buffer, so
// capture keeps appending while an extraction reads. Frames the cursor has
// not reached yet can be evicted unless the range is pinned; pin before
// iterating when full coverage matters.
type Cursor struct {
	src     *sourceBuffer
	start   time.Time
	end     time.Time
	nextSeq uint64
}

func newCursor(src *sourceBuffer, start, end time.Time) *Cursor {
	return &Cursor{src: src, start: start, end: end, nextSeq: 0}
}

// Next returns the next frame in the range, or nil once exhausted.
func (c *Cursor) Next() *Frame {
	f := c.src.nextInRange(c.nextSeq, c.start, c.end)
	if f == nil {
		return nil
	}
	c.nextSeq = f.Seq + 1
	return f
}

// Reset restarts the cursor at the beginning of the range.
func (c *Cursor) Reset() {
	c.nextSeq = 0
}

// Collect drains the cursor into a slice. The cursor is left exhausted.
func (c *Cursor) Collect() []*Frame {
	var out []*Frame
	for f := c.Next(); f != nil; f = c.Next() {
		out = append(out, f)
	}
	return out
}
