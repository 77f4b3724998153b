package mot

import (
	"sort"
	"time"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// TrackState is the lifecycle state of a track. Transitions are forward-only:
// Tentative -> Confirmed -> Lost. A Confirmed track never reverts to Tentative.
type TrackState uint8

const (
	// TrackTentative is a freshly created track that has not yet accumulated
	// enough consecutive matches to be trusted.
	TrackTentative TrackState = iota
	// TrackConfirmed is a stable track with at least MinHits consecutive matches.
	TrackConfirmed
	// TrackLost is a track that went unmatched for more than MaxAge frames.
	// Lost tracks are removed from the active set.
	TrackLost
)

func (s TrackState) String() string {
	switch s {
	case TrackTentative:
		return "tentative"
	case TrackConfirmed:
		return "confirmed"
	case TrackLost:
		return "lost"
	default:
		return "unknown"
	}
}

// classVoteWindow is the number of recent class observations kept for the
// majority vote on a track's class label.
const classVoteWindow = 10

// Track is a persistent object identity maintained across frames.
// The bounding box dynamics are estimated with an 8-D Kalman filter
// (center position, size, and their velocities) under a constant-velocity
// motion model.
type Track struct {
	id            int64
	state         TrackState
	currentBBox   Rect
	predictedBBox Rect

	hits            int
	age             int
	timeSinceUpdate int

	lastTimestamp time.Time
	confidence    float64
	classVotes    []string

	kf *kalman_filter.KalmanBBox
}

// newTrack creates a Tentative track from an unmatched detection.
// dt is the Kalman filter time step in seconds (typically 1/fps).
func newTrack(id int64, det Detection, timestamp time.Time, dt float64) *Track {
	center := det.BBox.Center()

	// Kalman filter props
	uCx := 1.0
	uCy := 1.0
	uW := 0.0
	uH := 0.0
	stdDevA := 2.0
	stdDevMCx := 0.1
	stdDevMCy := 0.1
	stdDevMW := 0.1
	stdDevMH := 0.1
	kf := kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, det.BBox.Width, det.BBox.Height),
	)

	trk := &Track{
		id:            id,
		state:         TrackTentative,
		currentBBox:   det.BBox,
		predictedBBox: det.BBox,
		hits:          1,
		age:           0,
		lastTimestamp: timestamp,
		confidence:    det.Confidence,
		classVotes:    make([]string, 0, classVoteWindow),
		kf:            kf,
	}
	trk.classVotes = append(trk.classVotes, det.Class)
	return trk
}

// ID returns the track identifier. IDs are monotonic per tracker and are
// never reused, even after the track is lost.
func (trk *Track) ID() int64 {
	return trk.id
}

// State returns the current lifecycle state.
func (trk *Track) State() TrackState {
	return trk.state
}

// BBox returns the current (Kalman-smoothed) bounding box.
func (trk *Track) BBox() Rect {
	return trk.currentBBox
}

// PredictedBBox returns the bounding box predicted for the current frame
// before any detection was associated.
func (trk *Track) PredictedBBox() Rect {
	return trk.predictedBBox
}

// Center returns the center of the current bounding box.
func (trk *Track) Center() Point {
	return trk.currentBBox.Center()
}

// Hits returns the number of consecutive frames the track was matched.
func (trk *Track) Hits() int {
	return trk.hits
}

// Age returns the number of frames since the track was created.
func (trk *Track) Age() int {
	return trk.age
}

// TimeSinceUpdate returns the number of consecutive frames the track went
// unmatched.
func (trk *Track) TimeSinceUpdate() int {
	return trk.timeSinceUpdate
}

// Confidence returns the confidence of the most recently matched detection.
func (trk *Track) Confidence() float64 {
	return trk.confidence
}

// LastTimestamp returns the capture timestamp of the last matched frame.
func (trk *Track) LastTimestamp() time.Time {
	return trk.lastTimestamp
}

// Class returns the track's class label decided by majority vote over the
// most recent observations. Ties resolve to the lexicographically smallest
// label so the result is deterministic.
func (trk *Track) Class() string {
	if len(trk.classVotes) == 0 {
		return ""
	}
	counts := make(map[string]int, len(trk.classVotes))
	for _, c := range trk.classVotes {
		counts[c]++
	}
	labels := make([]string, 0, len(counts))
	for c := range counts {
		labels = append(labels, c)
	}
	sort.Strings(labels)
	best := labels[0]
	for _, c := range labels[1:] {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

// Velocity returns the Kalman velocity estimates (vx, vy, vw, vh).
func (trk *Track) Velocity() (float64, float64, float64, float64) {
	return trk.kf.GetVelocity()
}

// predict advances the Kalman state one step under the constant-velocity
// model and stores the predicted bounding box.
func (trk *Track) predict() {
	trk.kf.Predict()
	cx, cy, w, h := trk.kf.GetState()
	trk.predictedBBox = Rect{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
}

// correct runs the Kalman correction step with the matched detection and
// updates lifecycle counters.
func (trk *Track) correct(det Detection, timestamp time.Time) error {
	center := det.BBox.Center()
	if err := trk.kf.Update(center.X, center.Y, det.BBox.Width, det.BBox.Height); err != nil {
		return errors.Wrap(err, "can't correct track state")
	}

	cx, cy, w, h := trk.kf.GetState()
	trk.currentBBox = Rect{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}

	trk.hits++
	trk.timeSinceUpdate = 0
	trk.lastTimestamp = timestamp
	trk.confidence = det.Confidence

	trk.classVotes = append(trk.classVotes, det.Class)
	if len(trk.classVotes) > classVoteWindow {
		trk.classVotes = trk.classVotes[1:]
	}
	return nil
}

// markMissed registers an unmatched frame: the consecutive-hit streak is
// broken and the track coasts on its prediction.
func (trk *Track) markMissed() {
	trk.timeSinceUpdate++
	trk.hits = 0
	trk.currentBBox = trk.predictedBBox
}
