// Package framebank keeps the most recent frames of every video source in a
// bounded, time-indexed ring. It is the only structure in the engine with
// concurrent writers (capture) and readers (clip extraction): appends and
// eviction are synchronized against range queries and pins, while frames
// themselves are immutable once appended.
package framebank

import (
	"time"

	"github.com/pkg/errors"
)

// Frame is a single decoded video frame. The pixel buffer is owned by the
// bank once appended and must not be mutated by the producer afterwards.
type Frame struct {
	SourceID  string
	Seq       uint64
	Timestamp time.Time
	Pixels    []byte
	Width     int
	Height    int
}

// Size returns the retained byte size of the frame.
func (f *Frame) Size() int64 {
	return int64(len(f.Pixels))
}

// ErrNotYetAvailable reports that a requested range extends past the newest
// captured frame. It is retryable: callers back off and query again.
var ErrNotYetAvailable = errors.New("frame range not yet available")

// ErrUnknownSource reports a query against a source that has never pushed a
// frame.
var ErrUnknownSource = errors.New("unknown video source")
