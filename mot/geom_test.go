package mot

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	r1 := NewRect(0.1, 0.1, 0.2, 0.2)

	// Identical rectangles have IoU 1.
	if got := IoU(r1, r1); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Expected IoU 1.0, got %f", got)
	}

	// Disjoint rectangles have IoU 0.
	r2 := NewRect(0.6, 0.6, 0.2, 0.2)
	if got := IoU(r1, r2); got != 0 {
		t.Errorf("Expected IoU 0, got %f", got)
	}

	// Half-overlapping rectangles: inter 0.1*0.2, union 2*0.04-0.02.
	r3 := NewRect(0.2, 0.1, 0.2, 0.2)
	expected := 0.02 / 0.06
	if got := IoU(r1, r3); math.Abs(got-expected) > 1e-9 {
		t.Errorf("Expected IoU %f, got %f", expected, got)
	}
}

func TestRectContainsPointInclusiveEdges(t *testing.T) {
	r := NewRect(0.0, 0.0, 0.5, 0.5)

	cases := []struct {
		p      Point
		inside bool
	}{
		{Point{X: 0.25, Y: 0.25}, true},
		{Point{X: 0.0, Y: 0.0}, true},   // top-left corner
		{Point{X: 0.5, Y: 0.5}, true},   // bottom-right corner is inclusive
		{Point{X: 0.5, Y: 0.25}, true},  // right edge
		{Point{X: 0.25, Y: 0.5}, true},  // bottom edge
		{Point{X: 0.51, Y: 0.25}, false},
		{Point{X: 0.6, Y: 0.6}, false},
	}
	for _, c := range cases {
		if got := r.ContainsPoint(c.p); got != c.inside {
			t.Errorf("ContainsPoint(%v): expected %v, got %v", c.p, c.inside, got)
		}
	}
}

func TestRectCenter(t *testing.T) {
	r := NewRect(0.1, 0.1, 0.2, 0.2)
	center := r.Center()
	if math.Abs(center.X-0.2) > 1e-9 || math.Abs(center.Y-0.2) > 1e-9 {
		t.Errorf("Expected center (0.2, 0.2), got %v", center)
	}
}
