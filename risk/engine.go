package risk

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-cv/vigil/clip"
)

// Config holds the scoring thresholds and windows.
type Config struct {
	// AlertThreshold is the score at which an event becomes an alert.
	AlertThreshold float64
	// DiscountThreshold is the discount percent above which +0.3 applies.
	DiscountThreshold float64
	// HighValueThreshold is the amount above which +0.2 applies.
	HighValueThreshold float64
	// RepeatWindow is the rolling window for the repeat-offender check.
	RepeatWindow time.Duration
	// RepeatMinAlerts is the prior-alert count that marks a repeat offender.
	RepeatMinAlerts int
	// WindowBefore/WindowAfter bound the derived clip window around the
	// event timestamp.
	WindowBefore time.Duration
	WindowAfter  time.Duration
	// ReorderWindow is how far behind the newest seen event timestamp an
	// event may arrive and still be re-sequenced. Zero disables holdback.
	ReorderWindow time.Duration
	// ActorHistoryLimit bounds the per-actor alert history length.
	ActorHistoryLimit int
	// DefaultSource is the camera used for clip requests when no resolver
	// is installed.
	DefaultSource string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		AlertThreshold:     0.4,
		DiscountThreshold:  30.0,
		HighValueThreshold: 1000.0,
		RepeatWindow:       24 * time.Hour,
		RepeatMinAlerts:    2,
		WindowBefore:       30 * time.Second,
		WindowAfter:        30 * time.Second,
		ReorderWindow:      5 * time.Second,
		ActorHistoryLimit:  64,
		DefaultSource:      "cam0",
	}
}

// Normal trading hours; event timestamps outside them add risk.
const (
	openingHour = 6
	closingHour = 22
)

// SourceResolver maps an event to the video source covering it.
type SourceResolver func(ExternalEvent) string

// Alert is one event that crossed the threshold, with its derived clip
// request.
type Alert struct {
	Event         ExternalEvent
	Score         float64
	Level         clip.Priority
	CorrelationID string
	Clip          clip.Request
}

// Engine scores external events. Events may arrive slightly out of order;
// the engine holds them back for ReorderWindow of event time and processes
// them in timestamp order. Events older than the reorder window are scored
// immediately, best-effort, with a warning.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	resolver SourceResolver
	// pending is the holdback buffer, kept sorted by timestamp.
	pending []ExternalEvent
	// watermark is the newest event timestamp seen.
	watermark time.Time
	// history maps actor id to timestamps of prior alerts, newest last.
	history map[string][]time.Time
	log     *slog.Logger
}

// NewEngine creates a risk engine. A nil resolver routes every clip request
// to cfg.DefaultSource.
func NewEngine(cfg Config, resolver SourceResolver) *Engine {
	if resolver == nil {
		resolver = func(ExternalEvent) string { return cfg.DefaultSource }
	}
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		history:  make(map[string][]time.Time),
		log:      slog.Default(),
	}
}

// SetLogger replaces the logger.
func (e *Engine) SetLogger(log *slog.Logger) {
	if log != nil {
		e.log = log
	}
}

// Score computes the event's risk without recording anything. The
// repeat-offender modifier reads the current alert history.
func (e *Engine) Score(ev ExternalEvent) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(ev)
}

// OnEvent ingests one event and returns the alerts released by it: the
// holdback buffer may flush zero or more older events before this one is
// even eligible. Safe for concurrent use.
func (e *Engine) OnEvent(ev ExternalEvent) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.ReorderWindow <= 0 {
		return e.processLocked(ev)
	}

	if !e.watermark.IsZero() && ev.Timestamp.Before(e.watermark.Add(-e.cfg.ReorderWindow)) {
		// Too old to re-sequence. Scored anyway so nothing is dropped
		// silently, but repeat-offender ordering is best-effort here.
		e.log.Warn("event out of order",
			"event", ev.ID, "kind", ev.Kind,
			"behind", e.watermark.Sub(ev.Timestamp))
		return e.processLocked(ev)
	}

	if ev.Timestamp.After(e.watermark) {
		e.watermark = ev.Timestamp
	}
	i := sort.Search(len(e.pending), func(i int) bool {
		return e.pending[i].Timestamp.After(ev.Timestamp)
	})
	e.pending = append(e.pending, ExternalEvent{})
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = ev

	return e.releaseLocked(e.watermark.Add(-e.cfg.ReorderWindow))
}

// Flush drains the holdback buffer regardless of the watermark, in
// timestamp order. Called on shutdown.
func (e *Engine) Flush() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseLocked(time.Time{})
}

// releaseLocked processes every pending event with timestamp <= cutoff.
// A zero cutoff releases everything.
func (e *Engine) releaseLocked(cutoff time.Time) []Alert {
	var alerts []Alert
	for len(e.pending) > 0 {
		ev := e.pending[0]
		if !cutoff.IsZero() && ev.Timestamp.After(cutoff) {
			break
		}
		e.pending = e.pending[1:]
		alerts = append(alerts, e.processLocked(ev)...)
	}
	return alerts
}

func (e *Engine) processLocked(ev ExternalEvent) []Alert {
	score := e.scoreLocked(ev)
	if score < e.cfg.AlertThreshold {
		e.log.Debug("event below alert threshold",
			"event", ev.ID, "kind", ev.Kind, "score", score)
		return nil
	}

	e.recordAlertLocked(ev)

	level := priorityFor(score)
	correlationID := uuid.NewString()
	alert := Alert{
		Event:         ev,
		Score:         score,
		Level:         level,
		CorrelationID: correlationID,
		Clip: clip.Request{
			ID:            uuid.NewString(),
			SourceID:      e.resolver(ev),
			Center:        ev.Timestamp,
			Before:        e.cfg.WindowBefore,
			After:         e.cfg.WindowAfter,
			CorrelationID: correlationID,
			Priority:      level,
			Status:        clip.StatusPending,
		},
	}
	e.log.Info("risk alert",
		"event", ev.ID, "kind", ev.Kind, "actor", ev.ActorID,
		"score", score, "level", level.String(), "clip", alert.Clip.ID)
	return []Alert{alert}
}

// scoreLocked applies base score and modifiers, clamped to [0, 1].
func (e *Engine) scoreLocked(ev ExternalEvent) float64 {
	score := ev.Kind.BaseScore()

	if ev.Amount != nil && *ev.Amount > e.cfg.HighValueThreshold {
		score += 0.2
	}
	if ev.DiscountPercent != nil && *ev.DiscountPercent > e.cfg.DiscountThreshold {
		score += 0.3
	}
	if hour := ev.Timestamp.Hour(); hour < openingHour || hour > closingHour {
		score += 0.1
	}
	if e.repeatOffenderLocked(ev) {
		score += 0.3
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// repeatOffenderLocked reports whether the actor accumulated enough prior
// alerts inside the rolling window, measured in event time.
func (e *Engine) repeatOffenderLocked(ev ExternalEvent) bool {
	if ev.ActorID == "" {
		return false
	}
	cutoff := ev.Timestamp.Add(-e.cfg.RepeatWindow)
	count := 0
	for _, ts := range e.history[ev.ActorID] {
		if !ts.Before(cutoff) && !ts.After(ev.Timestamp) {
			count++
		}
	}
	return count >= e.cfg.RepeatMinAlerts
}

func (e *Engine) recordAlertLocked(ev ExternalEvent) {
	if ev.ActorID == "" {
		return
	}
	hist := append(e.history[ev.ActorID], ev.Timestamp)
	if limit := e.cfg.ActorHistoryLimit; limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	e.history[ev.ActorID] = hist
}

// priorityFor buckets a score into a clip priority.
func priorityFor(score float64) clip.Priority {
	switch {
	case score >= 0.8:
		return clip.PriorityCritical
	case score >= 0.6:
		return clip.PriorityHigh
	default:
		return clip.PriorityMedium
	}
}
