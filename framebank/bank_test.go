package framebank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func push(b *Bank, source string, at time.Duration) *Frame {
	return b.Append(source, t0.Add(at), make([]byte, 16), 4, 4)
}

func TestAppendAndRangeQuery(t *testing.T) {
	bank := NewBank(DefaultConfig())
	for i := 0; i < 10; i++ {
		push(bank, "cam1", time.Duration(i)*time.Second)
	}

	cur, err := bank.RangeQuery("cam1", t0.Add(2*time.Second), t0.Add(5*time.Second))
	require.NoError(t, err)

	frames := cur.Collect()
	require.Len(t, frames, 4) // inclusive [2s, 5s]
	assert.Equal(t, t0.Add(2*time.Second), frames[0].Timestamp)
	assert.Equal(t, t0.Add(5*time.Second), frames[3].Timestamp)
}

func TestRangeQueryNotYetAvailable(t *testing.T) {
	bank := NewBank(DefaultConfig())
	push(bank, "cam1", 0)
	push(bank, "cam1", time.Second)

	// end exactly at head succeeds; one tick past fails.
	_, err := bank.RangeQuery("cam1", t0, t0.Add(time.Second))
	require.NoError(t, err)

	_, err = bank.RangeQuery("cam1", t0, t0.Add(time.Second+time.Nanosecond))
	assert.ErrorIs(t, err, ErrNotYetAvailable)
}

func TestRangeQueryUnknownSource(t *testing.T) {
	bank := NewBank(DefaultConfig())
	_, err := bank.RangeQuery("nope", t0, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestRetentionEviction(t *testing.T) {
	cfg := Config{Retention: 5 * time.Second}
	bank := NewBank(cfg)

	for i := 0; i <= 10; i++ {
		push(bank, "cam1", time.Duration(i)*time.Second)
	}

	// Frames older than head-5s are gone; span never exceeds retention.
	assert.Equal(t, 6, bank.Len("cam1"))
	assert.LessOrEqual(t, bank.SpanDuration("cam1"), cfg.Retention)

	_, err := bank.RangeQuery("cam1", t0, t0.Add(3*time.Second))
	require.NoError(t, err)
}

func TestFrameCapEviction(t *testing.T) {
	cfg := Config{Retention: time.Hour, MaxFrames: 3}
	bank := NewBank(cfg)
	for i := 0; i < 10; i++ {
		push(bank, "cam1", time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 3, bank.Len("cam1"))
}

func TestByteCapEviction(t *testing.T) {
	cfg := Config{Retention: time.Hour, MaxBytes: 40}
	bank := NewBank(cfg)
	for i := 0; i < 10; i++ {
		push(bank, "cam1", time.Duration(i)*time.Millisecond) // 16 bytes each
	}
	assert.LessOrEqual(t, bank.Len("cam1"), 2)
}

func TestPinProtectsFromEviction(t *testing.T) {
	cfg := Config{Retention: 2 * time.Second}
	bank := NewBank(cfg)

	push(bank, "cam1", 0)
	token, err := bank.Pin("cam1", t0, t0.Add(time.Second))
	require.NoError(t, err)

	// Push far past retention: the pinned frame must survive.
	push(bank, "cam1", 10*time.Second)
	assert.Equal(t, 2, bank.Len("cam1"))

	// After unpin, the next append evicts it.
	bank.Unpin("cam1", token)
	push(bank, "cam1", 11*time.Second)
	assert.Equal(t, 2, bank.Len("cam1")) // 10s and 11s frames remain
	_, err = bank.RangeQuery("cam1", t0, t0)
	require.NoError(t, err)
	cur, _ := bank.RangeQuery("cam1", t0, t0)
	assert.Nil(t, cur.Next(), "pinned frame should be evicted after unpin")
}

func TestCursorRestartable(t *testing.T) {
	bank := NewBank(DefaultConfig())
	for i := 0; i < 5; i++ {
		push(bank, "cam1", time.Duration(i)*time.Second)
	}
	cur, err := bank.RangeQuery("cam1", t0, t0.Add(4*time.Second))
	require.NoError(t, err)

	first := cur.Collect()
	cur.Reset()
	second := cur.Collect()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Seq, second[i].Seq)
	}
}

func TestCursorSeesAppendsWhileIterating(t *testing.T) {
	bank := NewBank(DefaultConfig())
	push(bank, "cam1", 0)
	push(bank, "cam1", time.Second)
	push(bank, "cam1", 2*time.Second)

	cur, err := bank.RangeQuery("cam1", t0, t0.Add(2*time.Second))
	require.NoError(t, err)

	f := cur.Next()
	require.NotNil(t, f)

	// Concurrent capture keeps appending; the cursor's range is unaffected.
	push(bank, "cam1", 3*time.Second)

	rest := cur.Collect()
	assert.Len(t, rest, 2)
}

func TestSourcesIndependent(t *testing.T) {
	bank := NewBank(DefaultConfig())
	push(bank, "cam1", 0)
	push(bank, "cam2", 0)
	push(bank, "cam2", time.Second)

	assert.Equal(t, 1, bank.Len("cam1"))
	assert.Equal(t, 2, bank.Len("cam2"))
}

func TestSequenceNumbersMonotonic(t *testing.T) {
	bank := NewBank(DefaultConfig())
	var last uint64
	for i := 0; i < 5; i++ {
		f := push(bank, "cam1", time.Duration(i)*time.Second)
		require.Greater(t, f.Seq, last)
		last = f.Seq
	}
}
