// Package engine wires the analytics core together: frame capture feeds the
// frame bank, per-source pipelines run the tracker and zone analytics in
// strict capture order, external events drive the risk engine, and alerts
// fan out to the clip extraction pool and the persistence sinks.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vigil-cv/vigil/clip"
	"github.com/vigil-cv/vigil/config"
	"github.com/vigil-cv/vigil/framebank"
	"github.com/vigil-cv/vigil/mot"
	"github.com/vigil-cv/vigil/risk"
	"github.com/vigil-cv/vigil/timeutil"
	"github.com/vigil-cv/vigil/zone"
)

// ErrFrameOutOfOrder reports an Update whose timestamp does not advance the
// source's capture order. Per-source frames must arrive strictly in order.
var ErrFrameOutOfOrder = errors.New("frame out of capture order")

// AlertSink persists alerts.
type AlertSink interface {
	SaveAlert(risk.Alert) error
}

// ClipSink persists clip requests and emitted clips.
type ClipSink interface {
	SaveClipRequest(*clip.Request) error
	SaveClip(*clip.Clip) error
}

// Deps are the engine's injected collaborators. Nil sinks disable
// persistence; a nil clock means the real clock.
type Deps struct {
	Alerts   AlertSink
	Clips    ClipSink
	Clock    timeutil.Clock
	Resolver risk.SourceResolver
	Logger   *slog.Logger
}

// pipeline is the per-source sequential state: tracker and zone analytics,
// guarded by one mutex so a source's frames are processed strictly in order.
type pipeline struct {
	mu        sync.Mutex
	tracker   *mot.Tracker
	analytics *zone.Analytics
	lastTS    time.Time
}

// Engine is the top-level analytics core.
type Engine struct {
	cfg   config.Config
	bank  *framebank.Bank
	queue *clip.Queue
	pool  *clip.Pool
	risk  *risk.Engine

	mu        sync.Mutex
	pipelines map[string]*pipeline

	alertSink AlertSink
	clipSink  ClipSink
	alerts    chan risk.Alert
	log       *slog.Logger
}

// New creates an engine from configuration.
func New(cfg config.Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	bank := framebank.NewBank(framebank.Config{
		Retention: cfg.Frames.Retention(),
		MaxFrames: cfg.Frames.MaxFrames,
		MaxBytes:  cfg.Frames.MaxBytes,
	})
	bank.SetLogger(log)

	queue := clip.NewQueue()
	pool := clip.NewPool(clip.Config{
		Workers:         cfg.Clips.Workers,
		OutputDir:       cfg.Clips.OutputDir,
		PollInterval:    100 * time.Millisecond,
		MaxPollInterval: time.Second,
		Grace:           time.Duration(cfg.Clips.GraceSeconds) * time.Second,
		EmitPartial:     cfg.Clips.EmitPartial,
	}, bank, queue, deps.Clock)
	pool.SetLogger(log)

	riskEngine := risk.NewEngine(risk.Config{
		AlertThreshold:     cfg.Risk.AlertThreshold,
		DiscountThreshold:  cfg.Risk.DiscountThreshold,
		HighValueThreshold: cfg.Risk.HighValueThreshold,
		RepeatWindow:       time.Duration(cfg.Risk.RepeatWindowHours) * time.Hour,
		RepeatMinAlerts:    2,
		WindowBefore:       time.Duration(cfg.Risk.WindowBeforeSecs) * time.Second,
		WindowAfter:        time.Duration(cfg.Risk.WindowAfterSecs) * time.Second,
		ReorderWindow:      time.Duration(cfg.Risk.ReorderSeconds) * time.Second,
		ActorHistoryLimit:  64,
		DefaultSource:      cfg.Risk.DefaultSource,
	}, deps.Resolver)
	riskEngine.SetLogger(log)

	return &Engine{
		cfg:       cfg,
		bank:      bank,
		queue:     queue,
		pool:      pool,
		risk:      riskEngine,
		pipelines: make(map[string]*pipeline),
		alertSink: deps.Alerts,
		clipSink:  deps.Clips,
		alerts:    make(chan risk.Alert, 128),
		log:       log,
	}, nil
}

// Bank exposes the frame history buffer for capture integration.
func (e *Engine) Bank() *framebank.Bank {
	return e.bank
}

// PushFrame hands a decoded frame to the history buffer. Ownership of the
// pixel buffer transfers to the bank.
func (e *Engine) PushFrame(sourceID string, timestamp time.Time, pixels []byte, width, height int) {
	e.bank.Append(sourceID, timestamp, pixels, width, height)
}

// Update runs one tracker cycle for a source and derives zone events.
// Timestamps must be strictly increasing per source.
func (e *Engine) Update(sourceID string, timestamp time.Time, detections []mot.Detection) ([]*mot.Track, []zone.MembershipEvent, error) {
	p := e.pipeline(sourceID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastTS.IsZero() && !timestamp.After(p.lastTS) {
		return nil, nil, errors.Wrapf(ErrFrameOutOfOrder,
			"source %s: %s not after %s", sourceID, timestamp.Format(time.RFC3339Nano), p.lastTS.Format(time.RFC3339Nano))
	}
	p.lastTS = timestamp

	active, lost, err := p.tracker.Update(timestamp, detections)
	if err != nil {
		return nil, nil, err
	}
	events := p.analytics.Observe(timestamp, trackViews(active), trackViews(lost))
	return active, events, nil
}

// SetZones installs the zone set for one source's analytics. Malformed
// zones are rejected and the rest take effect.
func (e *Engine) SetZones(sourceID string, zones []zone.Zone) error {
	return e.pipeline(sourceID).analytics.SetZones(zones)
}

// Zones returns the configured zones of one source.
func (e *Engine) Zones(sourceID string) []zone.Zone {
	return e.pipeline(sourceID).analytics.Zones()
}

// ZoneStats returns the aggregate counters of one zone on one source.
func (e *Engine) ZoneStats(sourceID, zoneID string) (zone.Stats, error) {
	return e.pipeline(sourceID).analytics.Stats(zoneID)
}

// OnEvent ingests one external event. Alerts it releases are persisted,
// enqueued for clip extraction, and published on the alert stream.
func (e *Engine) OnEvent(ev risk.ExternalEvent) {
	e.dispatch(e.risk.OnEvent(ev))
}

// Alerts is the engine's alert stream. Slow consumers lose alerts rather
// than stalling event ingestion; losses are logged.
func (e *Engine) Alerts() <-chan risk.Alert {
	return e.alerts
}

// Run operates the clip extraction pool and result persistence until the
// context is canceled, then flushes the risk engine's holdback buffer.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.pool.Run(ctx)
	})
	g.Go(func() error {
		for res := range e.pool.Results() {
			e.persistResult(res)
		}
		return nil
	})

	err := g.Wait()
	e.dispatch(e.risk.Flush())
	close(e.alerts)
	return err
}

func (e *Engine) pipeline(sourceID string) *pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pipelines[sourceID]; ok {
		return p
	}

	trackerCfg := mot.Config{
		MinHits: e.cfg.Tracker.MinHits,
		MaxAge:  e.cfg.Tracker.MaxAge,
		IoUGate: e.cfg.Tracker.IoUGate,
		DT:      1.0 / e.cfg.Tracker.FPS,
	}
	if e.cfg.Tracker.Matcher == "hungarian" {
		trackerCfg.Matcher = mot.MatcherHungarian
	}
	tracker := mot.NewTracker(trackerCfg)
	tracker.SetLogger(e.log.With("source", sourceID))

	analytics := zone.NewAnalytics()
	analytics.SetLogger(e.log.With("source", sourceID))

	p := &pipeline{tracker: tracker, analytics: analytics}
	e.pipelines[sourceID] = p
	return p
}

func (e *Engine) dispatch(alerts []risk.Alert) {
	for _, alert := range alerts {
		if e.alertSink != nil {
			if err := e.alertSink.SaveAlert(alert); err != nil {
				e.log.Error("can't persist alert", "correlation", alert.CorrelationID, "err", err)
			}
		}
		req := alert.Clip
		if e.clipSink != nil {
			if err := e.clipSink.SaveClipRequest(&req); err != nil {
				e.log.Error("can't persist clip request", "request", req.ID, "err", err)
			}
		}
		if err := e.queue.Enqueue(&req); err != nil {
			e.log.Error("can't enqueue clip request", "request", req.ID, "err", err)
		}

		select {
		case e.alerts <- alert:
		default:
			e.log.Warn("alert stream full, dropping alert", "correlation", alert.CorrelationID)
		}
	}
}

func (e *Engine) persistResult(res clip.Result) {
	if e.clipSink == nil {
		return
	}
	if err := e.clipSink.SaveClipRequest(res.Request); err != nil {
		e.log.Error("can't update clip request", "request", res.Request.ID, "err", err)
	}
	if res.Clip != nil {
		if err := e.clipSink.SaveClip(res.Clip); err != nil {
			e.log.Error("can't persist clip", "correlation", res.Clip.CorrelationID, "err", err)
		}
	}
}

func trackViews(tracks []*mot.Track) []zone.TrackView {
	views := make([]zone.TrackView, len(tracks))
	for i, trk := range tracks {
		views[i] = trk
	}
	return views
}
