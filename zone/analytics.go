package zone

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/vigil-cv/vigil/mot"
)

// EventKind distinguishes membership transitions.
type EventKind uint8

const (
	Entry EventKind = iota
	Exit
)

func (k EventKind) String() string {
	if k == Entry {
		return "entry"
	}
	return "exit"
}

// MembershipEvent records one track crossing a zone boundary. Events are
// derived state: occupancy is the running sum of Entry minus Exit per zone.
type MembershipEvent struct {
	TrackID   int64
	ZoneID    string
	Kind      EventKind
	Timestamp time.Time
}

// Stats is the per-zone aggregate exposed to dashboards.
type Stats struct {
	ZoneID       string
	Name         string
	Occupancy    int
	EntriesTotal int64
	ExitsTotal   int64
	AvgDwell     time.Duration
}

// ErrUnknownZone reports a stats query for a zone that was never configured.
var ErrUnknownZone = errors.New("unknown zone")

// TrackView is the slice of track state the analytics reads. *mot.Track
// satisfies it; analytics never mutates tracks.
type TrackView interface {
	ID() int64
	State() mot.TrackState
	BBox() mot.Rect
}

type zoneCounters struct {
	zone         Zone
	occupancy    int
	entriesTotal int64
	exitsTotal   int64
	dwellSecs    []float64
}

// Analytics diffs tracker output against the configured zone set. Only
// Confirmed tracks participate in containment; tentative identities flicker
// too much to count. Per-source sequential use is assumed for Observe; Stats
// and SetZones may be called from other goroutines.
type Analytics struct {
	mu    sync.Mutex
	zones map[string]*zoneCounters
	// membership maps track id -> zone id -> entry timestamp.
	membership map[int64]map[string]time.Time
	log        *slog.Logger
}

// NewAnalytics creates an empty analytics state.
func NewAnalytics() *Analytics {
	return &Analytics{
		zones:      make(map[string]*zoneCounters),
		membership: make(map[int64]map[string]time.Time),
		log:        slog.Default(),
	}
}

// SetLogger replaces the logger.
func (a *Analytics) SetLogger(log *slog.Logger) {
	if log != nil {
		a.log = log
	}
}

// SetZones replaces the configured zone set. Malformed zones are rejected
// and reported, valid ones take effect; counters of zones that persist
// across the call are kept, counters of removed zones are dropped. Returns
// the first validation error encountered, if any.
func (a *Analytics) SetZones(zones []Zone) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	next := make(map[string]*zoneCounters, len(zones))
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			a.log.Warn("rejected zone", "zone", z.ID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if prev, ok := a.zones[z.ID]; ok {
			prev.zone = z
			next[z.ID] = prev
		} else {
			next[z.ID] = &zoneCounters{zone: z}
		}
	}

	// Drop membership entries for zones that no longer exist.
	for trackID, zones := range a.membership {
		for zoneID := range zones {
			if _, ok := next[zoneID]; !ok {
				delete(zones, zoneID)
			}
		}
		if len(zones) == 0 {
			delete(a.membership, trackID)
		}
	}
	a.zones = next
	return firstErr
}

// Zones returns the currently configured zones, sorted by id.
func (a *Analytics) Zones() []Zone {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Zone, 0, len(a.zones))
	for _, zc := range a.zones {
		out = append(out, zc.zone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Observe diffs the frame's confirmed tracks against current membership and
// emits Entry/Exit events. Lost tracks exit every zone they occupy so that
// occupancy never leaks. Events are ordered by (track id, zone id); an Entry
// for a (track, zone) pair always precedes its matching Exit across calls.
func (a *Analytics) Observe(timestamp time.Time, active, lost []TrackView) []MembershipEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	var events []MembershipEvent
	zoneIDs := a.sortedZoneIDsLocked()

	for _, trk := range sortByID(active) {
		if trk.State() != mot.TrackConfirmed {
			continue
		}
		center := trk.BBox().Center()
		current := a.membership[trk.ID()]

		for _, zoneID := range zoneIDs {
			zc := a.zones[zoneID]
			if !zc.zone.Enabled {
				// Disabled zones freeze: no containment tests, no counter
				// movement, membership kept as-is.
				continue
			}
			_, wasInside := current[zoneID]
			inside := zc.zone.contains(center)
			switch {
			case inside && !wasInside:
				if current == nil {
					current = make(map[string]time.Time)
					a.membership[trk.ID()] = current
				}
				current[zoneID] = timestamp
				zc.occupancy++
				zc.entriesTotal++
				events = append(events, MembershipEvent{trk.ID(), zoneID, Entry, timestamp})
			case !inside && wasInside:
				a.exitLocked(zc, trk.ID(), current, zoneID, timestamp)
				events = append(events, MembershipEvent{trk.ID(), zoneID, Exit, timestamp})
			}
		}
	}

	for _, trk := range sortByID(lost) {
		current, ok := a.membership[trk.ID()]
		if !ok {
			continue
		}
		for _, zoneID := range zoneIDs {
			if _, inside := current[zoneID]; !inside {
				continue
			}
			zc := a.zones[zoneID]
			a.exitLocked(zc, trk.ID(), current, zoneID, timestamp)
			events = append(events, MembershipEvent{trk.ID(), zoneID, Exit, timestamp})
		}
		delete(a.membership, trk.ID())
	}

	return events
}

// exitLocked retires one (track, zone) membership: occupancy down (clamped),
// dwell sample recorded from the stored entry timestamp.
func (a *Analytics) exitLocked(zc *zoneCounters, trackID int64, current map[string]time.Time, zoneID string, timestamp time.Time) {
	enteredAt := current[zoneID]
	delete(current, zoneID)
	if len(current) == 0 {
		delete(a.membership, trackID)
	}
	zc.exitsTotal++
	if zc.occupancy > 0 {
		zc.occupancy--
	}
	if dwell := timestamp.Sub(enteredAt); dwell >= 0 {
		zc.dwellSecs = append(zc.dwellSecs, dwell.Seconds())
	}
}

// Stats returns the aggregate counters for one zone.
func (a *Analytics) Stats(zoneID string) (Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	zc, ok := a.zones[zoneID]
	if !ok {
		return Stats{}, errors.Wrapf(ErrUnknownZone, "zone %s", zoneID)
	}
	return a.statsLocked(zc), nil
}

// AllStats returns the aggregates for every configured zone, sorted by id.
func (a *Analytics) AllStats() []Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Stats, 0, len(a.zones))
	for _, zoneID := range a.sortedZoneIDsLocked() {
		out = append(out, a.statsLocked(a.zones[zoneID]))
	}
	return out
}

func (a *Analytics) statsLocked(zc *zoneCounters) Stats {
	s := Stats{
		ZoneID:       zc.zone.ID,
		Name:         zc.zone.Name,
		Occupancy:    zc.occupancy,
		EntriesTotal: zc.entriesTotal,
		ExitsTotal:   zc.exitsTotal,
	}
	if len(zc.dwellSecs) > 0 {
		s.AvgDwell = time.Duration(stat.Mean(zc.dwellSecs, nil) * float64(time.Second))
	}
	return s
}

// Occupancy returns the live occupant count of a zone; 0 for unknown zones.
func (a *Analytics) Occupancy(zoneID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if zc, ok := a.zones[zoneID]; ok {
		return zc.occupancy
	}
	return 0
}

func (a *Analytics) sortedZoneIDsLocked() []string {
	ids := make([]string, 0, len(a.zones))
	for id := range a.zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortByID(tracks []TrackView) []TrackView {
	out := make([]TrackView, len(tracks))
	copy(out, tracks)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
