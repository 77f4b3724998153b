package clip

import (
	"context"
	"image/jpeg"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-cv/vigil/framebank"
	"github.com/vigil-cv/vigil/timeutil"
)

var clipT0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// rgbFrame appends a solid-color RGB frame to the bank.
func rgbFrame(bank *framebank.Bank, source string, at time.Duration, w, h int) {
	pixels := make([]byte, w*h*3)
	for i := 0; i < len(pixels); i += 3 {
		pixels[i] = 0x20
		pixels[i+1] = 0x80
		pixels[i+2] = 0xd0
	}
	bank.Append(source, clipT0.Add(at), pixels, w, h)
}

func testPool(t *testing.T, cfg Config, clock timeutil.Clock) (*Pool, *framebank.Bank, *Queue) {
	t.Helper()
	cfg.OutputDir = t.TempDir()
	bank := framebank.NewBank(framebank.DefaultConfig())
	queue := NewQueue()
	pool := NewPool(cfg, bank, queue, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return pool, bank, queue
}

func pendingRequest(source string, center time.Time, before, after time.Duration) *Request {
	return &Request{
		ID:            "0f2c9a41-5b77-4d1e-9c3a-8e6f12ab34cd",
		SourceID:      source,
		Center:        center,
		Before:        before,
		After:         after,
		CorrelationID: "corr-1",
		Priority:      PriorityHigh,
		Status:        StatusPending,
	}
}

func TestExtractionSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	clock := timeutil.NewMockClock(clipT0)
	pool, bank, queue := testPool(t, cfg, clock)

	// Window fully buffered before the request is even queued.
	for i := 0; i <= 10; i++ {
		rgbFrame(bank, "cam1", time.Duration(i)*time.Second, 8, 8)
	}

	req := pendingRequest("cam1", clipT0.Add(5*time.Second), 3*time.Second, 3*time.Second)
	require.NoError(t, queue.Enqueue(req))

	res := <-pool.Results()
	require.NoError(t, res.Err)
	require.NotNil(t, res.Clip)

	assert.Equal(t, StatusReady, res.Request.Status)
	assert.False(t, res.Clip.Partial)
	assert.Equal(t, clipT0.Add(2*time.Second), res.Clip.StartTime)
	assert.Equal(t, clipT0.Add(8*time.Second), res.Clip.EndTime)
	assert.Equal(t, "corr-1", res.Clip.CorrelationID)
	assert.Positive(t, res.Clip.SizeBytes)

	// Artifact and thumbnail exist under <source>/<yyyymmdd>/.
	assert.Contains(t, res.Clip.ArtifactPath, "cam1")
	assert.Contains(t, res.Clip.ArtifactPath, "20240501")
	assert.Contains(t, res.Clip.ArtifactPath, "120005_0f2c9a41.mjpeg")
	info, err := os.Stat(res.Clip.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, res.Clip.SizeBytes, info.Size())
	_, err = os.Stat(res.Clip.ThumbnailPath)
	require.NoError(t, err)
}

func TestExtractionRetriesUntilCoverage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.PollInterval = 2 * time.Millisecond
	cfg.MaxPollInterval = 5 * time.Millisecond
	cfg.Grace = 2 * time.Second
	pool, bank, queue := testPool(t, cfg, timeutil.RealClock{})

	// Only the first half of the window is buffered.
	rgbFrame(bank, "cam1", 0, 4, 4)
	rgbFrame(bank, "cam1", time.Second, 4, 4)

	req := pendingRequest("cam1", clipT0.Add(time.Second), time.Second, time.Second)
	require.NoError(t, queue.Enqueue(req))

	// Let the worker observe NotYetAvailable at least once, then complete
	// the window.
	time.Sleep(20 * time.Millisecond)
	rgbFrame(bank, "cam1", 2*time.Second, 4, 4)
	rgbFrame(bank, "cam1", 3*time.Second, 4, 4)

	res := <-pool.Results()
	require.NoError(t, res.Err)
	assert.Equal(t, StatusReady, res.Request.Status)
	assert.Equal(t, clipT0, res.Clip.StartTime)
	assert.Equal(t, clipT0.Add(2*time.Second), res.Clip.EndTime)
}

func TestExtractionTimesOutIncompleteWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.Grace = time.Second
	clock := timeutil.NewMockClock(clipT0)
	pool, bank, queue := testPool(t, cfg, clock)

	// Nothing past the window start ever arrives; the mock clock advances
	// through each backoff sleep until the deadline expires.
	rgbFrame(bank, "cam1", 0, 4, 4)

	req := pendingRequest("cam1", clipT0.Add(time.Second), time.Second, 2*time.Second)
	require.NoError(t, queue.Enqueue(req))

	res := <-pool.Results()
	require.ErrorIs(t, res.Err, ErrIncompleteWindow)
	assert.Equal(t, StatusFailed, res.Request.Status)
	assert.Nil(t, res.Clip)
	assert.NotEmpty(t, clock.Sleeps())
}

func TestExtractionEmitsFlaggedPartial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.Grace = time.Second
	cfg.EmitPartial = true
	clock := timeutil.NewMockClock(clipT0)
	pool, bank, queue := testPool(t, cfg, clock)

	// Half the window is buffered, the rest never arrives.
	rgbFrame(bank, "cam1", 0, 4, 4)
	rgbFrame(bank, "cam1", time.Second, 4, 4)

	req := pendingRequest("cam1", clipT0.Add(time.Second), time.Second, 3*time.Second)
	require.NoError(t, queue.Enqueue(req))

	res := <-pool.Results()
	require.ErrorIs(t, res.Err, ErrIncompleteWindow)
	require.NotNil(t, res.Clip)
	assert.True(t, res.Clip.Partial)
	assert.Equal(t, StatusFailed, res.Request.Status)
	assert.Equal(t, clipT0.Add(time.Second), res.Clip.EndTime)
}

func TestThumbnailDownscaled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	clock := timeutil.NewMockClock(clipT0)
	pool, bank, queue := testPool(t, cfg, clock)

	rgbFrame(bank, "cam1", 0, 640, 480)
	rgbFrame(bank, "cam1", time.Second, 640, 480)

	req := pendingRequest("cam1", clipT0, 0, time.Second)
	require.NoError(t, queue.Enqueue(req))

	res := <-pool.Results()
	require.NoError(t, res.Err)

	f, err := os.Open(res.Clip.ThumbnailPath)
	require.NoError(t, err)
	defer f.Close()
	dims, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.LessOrEqual(t, dims.Width, 320)
	assert.Equal(t, 240, dims.Height)
}
