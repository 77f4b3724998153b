package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-cv/vigil/clip"
)

// noon keeps scoring clear of the after-hours modifier.
var noon = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func evt(kind EventKind, ts time.Time, actor string) ExternalEvent {
	return ExternalEvent{ID: "ev-" + string(kind), Timestamp: ts, ActorID: actor, Kind: kind}
}

func f64(v float64) *float64 { return &v }

// immediate returns an engine with holdback disabled so OnEvent scores
// synchronously.
func immediate() *Engine {
	cfg := DefaultConfig()
	cfg.ReorderWindow = 0
	return NewEngine(cfg, nil)
}

func TestBaseScores(t *testing.T) {
	e := immediate()
	cases := map[EventKind]float64{
		KindVoidTransaction:  0.4,
		KindRefundIssued:     0.5,
		KindPriceOverride:    0.3,
		KindNoSaleOpened:     0.6,
		KindCashDrawerOpened: 0.3,
		KindSuspiciousReturn: 0.7,
		KindDiscountApplied:  0.2,
		KindPaymentCleared:   0.1,
	}
	for kind, want := range cases {
		assert.InDelta(t, want, e.Score(evt(kind, noon, "a1")), 1e-9, "kind %s", kind)
	}
}

func TestHighDiscountAlert(t *testing.T) {
	e := immediate()

	ev := evt(KindDiscountApplied, noon, "staff-7")
	ev.DiscountPercent = f64(50)

	alerts := e.OnEvent(ev)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.InDelta(t, 0.5, a.Score, 1e-9) // base 0.2 + high discount 0.3
	assert.Equal(t, clip.PriorityMedium, a.Level)
	assert.Equal(t, noon.Add(-30*time.Second), a.Clip.Start())
	assert.Equal(t, noon.Add(30*time.Second), a.Clip.End())
	assert.Equal(t, a.CorrelationID, a.Clip.CorrelationID)
	assert.Equal(t, clip.StatusPending, a.Clip.Status)
	assert.NotEmpty(t, a.Clip.ID)
}

func TestDiscountAtThresholdNotModified(t *testing.T) {
	e := immediate()
	ev := evt(KindDiscountApplied, noon, "staff-7")
	ev.DiscountPercent = f64(30) // threshold is strictly exceeded
	assert.InDelta(t, 0.2, e.Score(ev), 1e-9)
	assert.Empty(t, e.OnEvent(ev))
}

func TestHighValueModifier(t *testing.T) {
	e := immediate()
	ev := evt(KindPaymentCleared, noon, "staff-7")
	ev.Amount = f64(2500)
	assert.InDelta(t, 0.3, e.Score(ev), 1e-9)
}

func TestAfterHoursModifier(t *testing.T) {
	e := immediate()
	late := time.Date(2024, 5, 1, 23, 15, 0, 0, time.UTC)
	early := time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC)

	assert.InDelta(t, 0.2, e.Score(evt(KindPaymentCleared, late, "a")), 1e-9)
	assert.InDelta(t, 0.2, e.Score(evt(KindPaymentCleared, early, "a")), 1e-9)
	assert.InDelta(t, 0.1, e.Score(evt(KindPaymentCleared, noon, "a")), 1e-9)
}

func TestRepeatOffenderModifier(t *testing.T) {
	e := immediate()

	// Two alerts for the same actor inside 24h.
	first := evt(KindRefundIssued, noon, "staff-3")
	second := evt(KindRefundIssued, noon.Add(time.Hour), "staff-3")
	require.Len(t, e.OnEvent(first), 1)
	require.Len(t, e.OnEvent(second), 1)

	// The third event carries the repeat-offender modifier.
	third := evt(KindVoidTransaction, noon.Add(2*time.Hour), "staff-3")
	assert.InDelta(t, 0.7, e.Score(third), 1e-9) // base 0.4 + repeat 0.3

	// A different actor is unaffected.
	other := evt(KindVoidTransaction, noon.Add(2*time.Hour), "staff-9")
	assert.InDelta(t, 0.4, e.Score(other), 1e-9)

	// Outside the rolling window the history no longer counts.
	stale := evt(KindVoidTransaction, noon.Add(26*time.Hour), "staff-3")
	assert.InDelta(t, 0.4, e.Score(stale), 1e-9)
}

func TestScoreClamped(t *testing.T) {
	e := immediate()
	ev := evt(KindSuspiciousReturn, time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC), "staff-3")
	ev.Amount = f64(5000)
	ev.DiscountPercent = f64(90)
	// 0.7 + 0.2 + 0.3 + 0.1 clamps to 1.
	assert.Equal(t, 1.0, e.Score(ev))

	alerts := e.OnEvent(ev)
	require.Len(t, alerts, 1)
	assert.Equal(t, clip.PriorityCritical, alerts[0].Level)
}

func TestAlertThresholdBoundary(t *testing.T) {
	e := immediate()
	// Void transaction scores exactly the default threshold and alerts.
	alerts := e.OnEvent(evt(KindVoidTransaction, noon, "staff-1"))
	require.Len(t, alerts, 1)
	assert.InDelta(t, 0.4, alerts[0].Score, 1e-9)
}

func TestPriorityBuckets(t *testing.T) {
	assert.Equal(t, clip.PriorityCritical, priorityFor(0.85))
	assert.Equal(t, clip.PriorityCritical, priorityFor(0.8))
	assert.Equal(t, clip.PriorityHigh, priorityFor(0.7))
	assert.Equal(t, clip.PriorityHigh, priorityFor(0.6))
	assert.Equal(t, clip.PriorityMedium, priorityFor(0.5))
}

func TestHoldbackReordersEvents(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	// Arrivals: t+4s before t+0s would be wrong to score in arrival order;
	// the holdback re-sequences them.
	late := evt(KindRefundIssued, noon.Add(4*time.Second), "staff-3")
	early := evt(KindNoSaleOpened, noon, "staff-3")

	assert.Empty(t, e.OnEvent(late))
	assert.Empty(t, e.OnEvent(early))

	// Advancing the watermark past the window releases both, oldest first.
	push := evt(KindPaymentCleared, noon.Add(10*time.Second), "other")
	alerts := e.OnEvent(push)
	require.Len(t, alerts, 2)
	assert.Equal(t, KindNoSaleOpened, alerts[0].Event.Kind)
	assert.Equal(t, KindRefundIssued, alerts[1].Event.Kind)

	// Flush drains whatever is still held back.
	assert.Empty(t, e.Flush())
}

func TestEventBehindReorderWindowStillScored(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	e.OnEvent(evt(KindPaymentCleared, noon.Add(time.Minute), "a"))

	// A full minute behind the watermark: processed immediately, not dropped.
	stale := evt(KindRefundIssued, noon, "staff-3")
	alerts := e.OnEvent(stale)
	require.Len(t, alerts, 1)
	assert.Equal(t, KindRefundIssued, alerts[0].Event.Kind)
}

func TestSourceResolver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReorderWindow = 0
	e := NewEngine(cfg, func(ev ExternalEvent) string { return "cam-" + ev.ActorID })

	alerts := e.OnEvent(evt(KindRefundIssued, noon, "7"))
	require.Len(t, alerts, 1)
	assert.Equal(t, "cam-7", alerts[0].Clip.SourceID)
}

func TestActorHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReorderWindow = 0
	cfg.ActorHistoryLimit = 4
	e := NewEngine(cfg, nil)

	for i := 0; i < 10; i++ {
		e.OnEvent(evt(KindRefundIssued, noon.Add(time.Duration(i)*time.Minute), "staff-3"))
	}
	assert.Len(t, e.history["staff-3"], 4)
}
