package framebank

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config bounds the per-source buffers.
type Config struct {
	// Retention is the time window of frames kept per source.
	Retention time.Duration
	// MaxFrames caps the frame count per source; 0 means no cap.
	MaxFrames int
	// MaxBytes caps the retained pixel bytes per source; 0 means no cap.
	MaxBytes int64
}

// DefaultConfig returns the production defaults: 120 seconds of history with
// a generous frame cap as a secondary guard.
func DefaultConfig() Config {
	return Config{
		Retention: 120 * time.Second,
		MaxFrames: 8192,
		MaxBytes:  0,
	}
}

// PinToken identifies a pinned time range. The zero value is never issued.
type PinToken uint64

type pinSpan struct {
	start time.Time
	end   time.Time
}

// Bank holds one bounded buffer per video source.
type Bank struct {
	mu      sync.RWMutex
	cfg     Config
	sources map[string]*sourceBuffer
	log     *slog.Logger
}

// NewBank creates a frame bank with the given bounds.
func NewBank(cfg Config) *Bank {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Bank{
		cfg:     cfg,
		sources: make(map[string]*sourceBuffer),
		log:     slog.Default(),
	}
}

// SetLogger replaces the bank's logger.
func (b *Bank) SetLogger(log *slog.Logger) {
	if log != nil {
		b.log = log
	}
}

// Append takes ownership of the pixel buffer and stores a new frame for the
// source, then evicts anything outside the retention window or over the
// frame/byte caps, unless pinned. Amortized O(1).
func (b *Bank) Append(sourceID string, timestamp time.Time, pixels []byte, width, height int) *Frame {
	b.mu.Lock()
	src, ok := b.sources[sourceID]
	if !ok {
		src = newSourceBuffer(sourceID, b.cfg, b.log)
		b.sources[sourceID] = src
	}
	b.mu.Unlock()

	return src.append(timestamp, pixels, width, height)
}

// RangeQuery returns a lazy, restartable cursor over frames of the source
// with timestamps in [start, end]. If end is past the newest captured frame
// the query fails with ErrNotYetAvailable rather than returning a partial
// range.
func (b *Bank) RangeQuery(sourceID string, start, end time.Time) (*Cursor, error) {
	src, err := b.source(sourceID)
	if err != nil {
		return nil, err
	}
	return src.rangeQuery(start, end)
}

// Pin protects frames of the source in [start, end] from eviction until the
// returned token is passed to Unpin.
func (b *Bank) Pin(sourceID string, start, end time.Time) (PinToken, error) {
	b.mu.Lock()
	src, ok := b.sources[sourceID]
	if !ok {
		// Pinning ahead of the first frame is legitimate: extraction may be
		// requested before capture reaches the window.
		src = newSourceBuffer(sourceID, b.cfg, b.log)
		b.sources[sourceID] = src
	}
	b.mu.Unlock()
	return src.pin(start, end), nil
}

// Unpin releases a pinned range. Frames outside the retention window become
// evictable on the next append.
func (b *Bank) Unpin(sourceID string, token PinToken) {
	if src, err := b.source(sourceID); err == nil {
		src.unpin(token)
	}
}

// Head returns the timestamp of the newest captured frame of the source.
func (b *Bank) Head(sourceID string) (time.Time, error) {
	src, err := b.source(sourceID)
	if err != nil {
		return time.Time{}, err
	}
	return src.head()
}

// SpanDuration returns the capture-time span currently retained for the
// source (newest minus oldest frame timestamp).
func (b *Bank) SpanDuration(sourceID string) time.Duration {
	src, err := b.source(sourceID)
	if err != nil {
		return 0
	}
	return src.span()
}

// Len returns the number of retained frames for the source.
func (b *Bank) Len(sourceID string) int {
	src, err := b.source(sourceID)
	if err != nil {
		return 0
	}
	return src.len()
}

func (b *Bank) source(sourceID string) (*sourceBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src, ok := b.sources[sourceID]
	if !ok {
		return nil, ErrUnknownSource
	}
	return src, nil
}

// sourceBuffer is the per-source ring. Frames are kept in capture order;
// seq numbers are monotonic per source.
type sourceBuffer struct {
	mu       sync.Mutex
	sourceID string
	cfg      Config
	frames   []*Frame
	bytes    int64
	nextSeq  uint64
	nextPin  PinToken
	pins     map[PinToken]pinSpan
	log      *slog.Logger
}

func newSourceBuffer(sourceID string, cfg Config, log *slog.Logger) *sourceBuffer {
	return &sourceBuffer{
		sourceID: sourceID,
		cfg:      cfg,
		frames:   make([]*Frame, 0, 256),
		nextSeq:  1,
		nextPin:  1,
		pins:     make(map[PinToken]pinSpan),
		log:      log,
	}
}

func (s *sourceBuffer) append(timestamp time.Time, pixels []byte, width, height int) *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &Frame{
		SourceID:  s.sourceID,
		Seq:       s.nextSeq,
		Timestamp: timestamp,
		Pixels:    pixels,
		Width:     width,
		Height:    height,
	}
	s.nextSeq++
	s.frames = append(s.frames, f)
	s.bytes += f.Size()

	s.evictLocked(timestamp)
	return f
}

// evictLocked removes frames from the front while they are outside the
// retention window or over a cap and not covered by any pin. Eviction stops
// at the first pinned frame to preserve capture order.
func (s *sourceBuffer) evictLocked(head time.Time) {
	cutoff := head.Add(-s.cfg.Retention)
	evicted := 0
	for len(s.frames) > 0 {
		front := s.frames[0]
		overRetention := front.Timestamp.Before(cutoff)
		overFrames := s.cfg.MaxFrames > 0 && len(s.frames) > s.cfg.MaxFrames
		overBytes := s.cfg.MaxBytes > 0 && s.bytes > s.cfg.MaxBytes
		if !overRetention && !overFrames && !overBytes {
			break
		}
		if s.pinnedLocked(front.Timestamp) {
			break
		}
		s.bytes -= front.Size()
		s.frames[0] = nil
		s.frames = s.frames[1:]
		evicted++
	}
	if evicted > 0 {
		s.log.Debug("evicted frames", "source", s.sourceID, "count", evicted, "retained", len(s.frames))
	}
}

func (s *sourceBuffer) pinnedLocked(ts time.Time) bool {
	for _, span := range s.pins {
		if !ts.Before(span.start) && !ts.After(span.end) {
			return true
		}
	}
	return false
}

func (s *sourceBuffer) pin(start, end time.Time) PinToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextPin
	s.nextPin++
	s.pins[token] = pinSpan{start: start, end: end}
	return token
}

func (s *sourceBuffer) unpin(token PinToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, token)
}

func (s *sourceBuffer) rangeQuery(start, end time.Time) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, ErrNotYetAvailable
	}
	head := s.frames[len(s.frames)-1].Timestamp
	if end.After(head) {
		return nil, ErrNotYetAvailable
	}
	return newCursor(s, start, end), nil
}

func (s *sourceBuffer) head() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return time.Time{}, ErrNotYetAvailable
	}
	return s.frames[len(s.frames)-1].Timestamp, nil
}

func (s *sourceBuffer) span() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) < 2 {
		return 0
	}
	return s.frames[len(s.frames)-1].Timestamp.Sub(s.frames[0].Timestamp)
}

func (s *sourceBuffer) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// nextInRange returns the first retained frame with sequence >= seq and
// timestamp within [start, end], or nil once the range is exhausted.
// Frames are sorted by seq, so the starting position is found by binary
// search.
func (s *sourceBuffer) nextInRange(seq uint64, start, end time.Time) *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.frames), func(i int) bool { return s.frames[i].Seq >= seq })
	for ; i < len(s.frames); i++ {
		f := s.frames[i]
		if f.Timestamp.Before(start) {
			continue
		}
		if f.Timestamp.After(end) {
			return nil
		}
		return f
	}
	return nil
}
