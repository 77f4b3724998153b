package mot

import (
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Config holds the tracker parameters.
type Config struct {
	// MinHits is the number of consecutive matches required to promote a
	// Tentative track to Confirmed.
	MinHits int
	// MaxAge is the number of consecutive unmatched frames tolerated before
	// a track is marked Lost and removed from the active set.
	MaxAge int
	// IoUGate is the minimum IoU for a (track, detection) pair to be
	// considered a match.
	IoUGate float64
	// Matcher selects the assignment algorithm.
	Matcher Matcher
	// DT is the Kalman filter time step in seconds (typically 1/fps).
	DT float64
}

// DefaultConfig returns the production-default tracker parameters.
func DefaultConfig() Config {
	return Config{
		MinHits: 3,
		MaxAge:  30,
		IoUGate: 0.3,
		Matcher: MatcherGreedy,
		DT:      1.0,
	}
}

// Tracker converts per-frame detection lists into persistent track
// identities for a single video source. It is not safe for concurrent use;
// callers must feed frames strictly in capture order.
type Tracker struct {
	cfg    Config
	nextID int64
	tracks map[int64]*Track
	log    *slog.Logger
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	if cfg.MinHits <= 0 {
		cfg.MinHits = 1
	}
	if cfg.DT <= 0 {
		cfg.DT = 1.0
	}
	return &Tracker{
		cfg:    cfg,
		nextID: 1,
		tracks: make(map[int64]*Track),
		log:    slog.Default(),
	}
}

// SetLogger replaces the tracker's logger.
func (t *Tracker) SetLogger(log *slog.Logger) {
	if log != nil {
		t.log = log
	}
}

// Update runs one tracking cycle for a frame captured at timestamp:
// predict, associate, correct, spawn, age. It returns the active tracks
// (sorted by ID) and the tracks lost this cycle, already removed from the
// active set. Output is deterministic given identical inputs.
func (t *Tracker) Update(timestamp time.Time, detections []Detection) (active, lost []*Track, err error) {
	// Predict every track one step forward.
	ids := t.sortedIDs()
	for _, id := range ids {
		trk := t.tracks[id]
		trk.predict()
		trk.age++
	}

	usable := make([]Detection, 0, len(detections))
	for _, det := range detections {
		if !det.Valid() {
			t.log.Warn("dropping malformed detection", "bbox", det.BBox, "class", det.Class)
			continue
		}
		usable = append(usable, det)
	}

	// IoU cost matrix between predicted track boxes and detections.
	iouMatrix := make([][]float64, len(ids))
	for i, id := range ids {
		row := make([]float64, len(usable))
		pred := t.tracks[id].PredictedBBox()
		for j, det := range usable {
			row[j] = IoU(pred, det.BBox)
		}
		iouMatrix[i] = row
	}

	var matches [][2]int
	switch t.cfg.Matcher {
	case MatcherHungarian:
		matches = hungarianAssign(iouMatrix, t.cfg.IoUGate, usable)
	default:
		var ambiguous int
		matches, ambiguous = greedyAssign(iouMatrix, t.cfg.IoUGate, usable, ids)
		if ambiguous > 0 {
			t.log.Debug("association ambiguity resolved by tie-break", "pairs", ambiguous)
		}
	}

	matchedTracks := make(map[int64]struct{}, len(matches))
	matchedDets := make(map[int]struct{}, len(matches))
	for _, m := range matches {
		trk := t.tracks[ids[m[0]]]
		det := usable[m[1]]
		if cerr := trk.correct(det, timestamp); cerr != nil {
			return nil, nil, errors.Wrapf(cerr, "can't update track %d", trk.id)
		}
		if trk.state == TrackTentative && trk.hits >= t.cfg.MinHits {
			trk.state = TrackConfirmed
		}
		matchedTracks[trk.id] = struct{}{}
		matchedDets[m[1]] = struct{}{}
	}

	// Unmatched detections spawn new tentative tracks.
	for j, det := range usable {
		if _, ok := matchedDets[j]; ok {
			continue
		}
		trk := newTrack(t.nextID, det, timestamp, t.cfg.DT)
		t.nextID++
		if t.cfg.MinHits <= 1 {
			trk.state = TrackConfirmed
		}
		t.tracks[trk.id] = trk
	}

	// Unmatched tracks coast; mark Lost once they exceed MaxAge misses.
	for _, id := range ids {
		trk := t.tracks[id]
		if _, ok := matchedTracks[id]; ok {
			continue
		}
		trk.markMissed()
		if trk.timeSinceUpdate > t.cfg.MaxAge {
			trk.state = TrackLost
			lost = append(lost, trk)
			delete(t.tracks, id)
		}
	}
	sort.Slice(lost, func(a, b int) bool { return lost[a].id < lost[b].id })

	return t.Active(), lost, nil
}

// Active returns the active tracks sorted by ID.
func (t *Tracker) Active() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, id := range t.sortedIDs() {
		out = append(out, t.tracks[id])
	}
	return out
}

// Confirmed returns the confirmed subset of active tracks sorted by ID.
func (t *Tracker) Confirmed() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, id := range t.sortedIDs() {
		if trk := t.tracks[id]; trk.state == TrackConfirmed {
			out = append(out, trk)
		}
	}
	return out
}

func (t *Tracker) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
