// Package clip extracts bounded video clips around alert timestamps. A
// priority queue of requests is drained by a pool of workers that pin the
// frame bank, wait for coverage, and encode an artifact plus thumbnail.
package clip

import (
	"time"

	"github.com/pkg/errors"
)

// Priority orders requests in the extraction queue.
type Priority uint8

const (
	PriorityMedium Priority = iota
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

// Status is the lifecycle of a request. Mutated only by the worker that owns
// the request.
type Status uint8

const (
	StatusPending Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ErrIncompleteWindow reports that the requested window was not fully
// buffered before the extraction deadline. Terminal per-request.
var ErrIncompleteWindow = errors.New("incomplete clip window")

// Request asks for a clip covering [Center-Before, Center+After] from one
// source. Created by the risk engine, owned end-to-end by a single worker
// once dequeued.
type Request struct {
	ID            string
	SourceID      string
	Center        time.Time
	Before        time.Duration
	After         time.Duration
	CorrelationID string
	Priority      Priority
	Status        Status
}

// Start returns the beginning of the requested window.
func (r *Request) Start() time.Time {
	return r.Center.Add(-r.Before)
}

// End returns the end of the requested window.
func (r *Request) End() time.Time {
	return r.Center.Add(r.After)
}

// Clip is the persisted artifact record emitted once extraction succeeds.
// Immutable after creation.
type Clip struct {
	SourceID      string
	StartTime     time.Time
	EndTime       time.Time
	ArtifactPath  string
	ThumbnailPath string
	SizeBytes     int64
	CorrelationID string
	// Partial marks a clip written from an incomplete window. Only set when
	// partial emission is enabled; never silently treated as complete.
	Partial bool
}
