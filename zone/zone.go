// Package zone derives membership, occupancy and dwell analytics from
// tracker output against a configured set of rectangular zones.
package zone

import (
	"github.com/pkg/errors"

	"github.com/vigil-cv/vigil/mot"
)

// minZoneDim is the smallest accepted normalized zone side length. Anything
// thinner is almost certainly a configuration typo.
const minZoneDim = 0.01

// ErrInvalidZone reports a malformed zone rectangle. Invalid zones are
// rejected at the configuration boundary and ignored until corrected.
var ErrInvalidZone = errors.New("invalid zone")

// Zone is a configured region of interest. Zones are externally defined and
// read-only to the analytics core.
type Zone struct {
	ID      string
	Name    string
	BBox    mot.Rect
	Enabled bool
}

// Validate checks the zone rectangle: normalized coordinates, positive size
// above the minimum, fully inside the frame.
func (z Zone) Validate() error {
	if z.ID == "" {
		return errors.Wrap(ErrInvalidZone, "empty zone id")
	}
	b := z.BBox
	if b.Width < minZoneDim || b.Height < minZoneDim {
		return errors.Wrapf(ErrInvalidZone, "zone %s: size %.4fx%.4f below minimum %.2f", z.ID, b.Width, b.Height, minZoneDim)
	}
	if b.X < 0 || b.Y < 0 || b.X+b.Width > 1 || b.Y+b.Height > 1 {
		return errors.Wrapf(ErrInvalidZone, "zone %s: rectangle outside normalized frame", z.ID)
	}
	return nil
}

// contains reports whether the point lies in the zone rectangle, boundary
// inclusive on all four edges.
func (z Zone) contains(p mot.Point) bool {
	return z.BBox.ContainsPoint(p)
}
