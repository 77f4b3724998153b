package clip

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vigil-cv/vigil/framebank"
	"github.com/vigil-cv/vigil/timeutil"
)

// Config tunes the extraction pool.
type Config struct {
	// Workers is the number of concurrent extraction goroutines.
	Workers int
	// OutputDir is the artifact root directory.
	OutputDir string
	// PollInterval is the initial backoff while waiting for coverage; it
	// doubles up to MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// Grace is added to a request's window_after to form the coverage
	// deadline.
	Grace time.Duration
	// EmitPartial writes a flagged partial clip when the deadline expires
	// with some of the window buffered. The request still fails.
	EmitPartial bool
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		OutputDir:       "./video_clips",
		PollInterval:    100 * time.Millisecond,
		MaxPollInterval: time.Second,
		Grace:           10 * time.Second,
	}
}

// Result is the terminal outcome of one request. Exactly one Result is
// emitted per dequeued request.
type Result struct {
	Request *Request
	// Clip is set on success, and on a flagged partial emission.
	Clip *Clip
	Err  error
}

// Pool drains the request queue with a fixed set of workers. Each worker
// owns a request end-to-end: pin, wait for coverage, encode, unpin, report.
type Pool struct {
	cfg     Config
	bank    *framebank.Bank
	queue   *Queue
	clock   timeutil.Clock
	enc     encoder
	results chan Result
	log     *slog.Logger
}

// NewPool creates an extraction pool reading from bank and queue. A nil
// clock means the real clock.
func NewPool(cfg Config, bank *framebank.Bank, queue *Queue, clock timeutil.Clock) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pool{
		cfg:     cfg,
		bank:    bank,
		queue:   queue,
		clock:   clock,
		enc:     encoder{outputDir: cfg.OutputDir},
		results: make(chan Result, 64),
		log:     slog.Default(),
	}
}

// SetLogger replaces the logger.
func (p *Pool) SetLogger(log *slog.Logger) {
	if log != nil {
		p.log = log
	}
}

// Results delivers one entry per processed request. Closed when Run returns.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Run blocks until the context is canceled and all workers have drained.
// Queued requests present at cancellation are still processed.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		p.queue.Close()
		return nil
	})
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				req, ok := p.queue.Dequeue()
				if !ok {
					return nil
				}
				p.process(ctx, req)
			}
		})
	}

	err := g.Wait()
	close(p.results)
	return err
}

func (p *Pool) process(ctx context.Context, req *Request) {
	start, end := req.Start(), req.End()

	token, err := p.bank.Pin(req.SourceID, start, end)
	if err != nil {
		p.fail(req, errors.Wrap(err, "can't pin clip window"))
		return
	}
	defer p.bank.Unpin(req.SourceID, token)

	cur, err := p.await(ctx, req)
	if err != nil {
		if errors.Is(err, ErrIncompleteWindow) && p.cfg.EmitPartial {
			p.emitPartial(req, err)
			return
		}
		p.fail(req, err)
		return
	}

	frames := cur.Collect()
	clip, err := p.encode(req, frames, false)
	if err != nil {
		p.fail(req, err)
		return
	}
	req.Status = StatusReady
	p.log.Info("clip ready",
		"request", req.ID, "source", req.SourceID,
		"frames", len(frames), "artifact", clip.ArtifactPath)
	p.results <- Result{Request: req, Clip: clip}
}

// await polls the bank until the full window is buffered, backing off on
// NotYetAvailable up to the deadline (window_after + grace past dequeue).
func (p *Pool) await(ctx context.Context, req *Request) (*framebank.Cursor, error) {
	deadline := p.clock.Now().Add(req.After + p.cfg.Grace)
	backoff := p.cfg.PollInterval

	for {
		cur, err := p.bank.RangeQuery(req.SourceID, req.Start(), req.End())
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, framebank.ErrNotYetAvailable) {
			return nil, errors.Wrap(err, "clip range query")
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(ErrIncompleteWindow, "canceled while waiting for coverage")
		}
		if !p.clock.Now().Before(deadline) {
			return nil, errors.Wrapf(ErrIncompleteWindow, "window not buffered within %s", req.After+p.cfg.Grace)
		}
		p.clock.Sleep(backoff)
		if backoff *= 2; backoff > p.cfg.MaxPollInterval {
			backoff = p.cfg.MaxPollInterval
		}
	}
}

// emitPartial writes whatever part of the window is buffered as a flagged
// partial clip. The request still transitions to Failed.
func (p *Pool) emitPartial(req *Request, cause error) {
	head, err := p.bank.Head(req.SourceID)
	if err != nil || !head.After(req.Start()) {
		p.fail(req, cause)
		return
	}
	cur, err := p.bank.RangeQuery(req.SourceID, req.Start(), head)
	if err != nil {
		p.fail(req, cause)
		return
	}
	clip, err := p.encode(req, cur.Collect(), true)
	if err != nil {
		p.fail(req, cause)
		return
	}
	req.Status = StatusFailed
	p.log.Warn("partial clip emitted",
		"request", req.ID, "source", req.SourceID, "artifact", clip.ArtifactPath)
	p.results <- Result{Request: req, Clip: clip, Err: cause}
}

func (p *Pool) encode(req *Request, frames []*framebank.Frame, partial bool) (*Clip, error) {
	if len(frames) == 0 {
		return nil, errors.Wrap(ErrIncompleteWindow, "no frames in window")
	}
	artifact := p.enc.artifactPath(req)
	size, err := p.enc.writeClip(frames, artifact)
	if err != nil {
		return nil, err
	}

	thumbnail := p.enc.thumbnailPath(req)
	if err := p.enc.writeThumbnail(frames[len(frames)/2], thumbnail); err != nil {
		// The clip itself is usable without its thumbnail.
		p.log.Warn("thumbnail failed", "request", req.ID, "err", err)
		thumbnail = ""
	}

	return &Clip{
		SourceID:      req.SourceID,
		StartTime:     frames[0].Timestamp,
		EndTime:       frames[len(frames)-1].Timestamp,
		ArtifactPath:  artifact,
		ThumbnailPath: thumbnail,
		SizeBytes:     size,
		CorrelationID: req.CorrelationID,
		Partial:       partial,
	}, nil
}

func (p *Pool) fail(req *Request, err error) {
	req.Status = StatusFailed
	p.log.Error("clip extraction failed",
		"request", req.ID, "source", req.SourceID, "err", err)
	p.results <- Result{Request: req, Err: err}
}
