package mot

import "math"

// Rect is an axis-aligned bounding box in normalized image coordinates.
// X, Y is the top-left corner; all fields are expected to lie in [0, 1].
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// NewRect creates a Rect from top-left corner and size.
func NewRect(x, y, width, height float64) Rect {
	return Rect{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// Center returns the geometric center of the rectangle.
func (r Rect) Center() Point {
	return Point{
		X: r.X + r.Width/2.0,
		Y: r.Y + r.Height/2.0,
	}
}

// Area returns the rectangle area.
func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// ContainsPoint reports whether p lies inside the rectangle.
// Boundaries are inclusive on all four edges.
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width &&
		p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Point is a 2D point in normalized image coordinates.
type Point struct {
	X float64
	Y float64
}

// IoU calculates Intersection over Union between two rectangles.
// Returns 0 for disjoint or degenerate rectangles.
func IoU(r1, r2 Rect) float64 {
	xA := math.Max(r1.X, r2.X)
	yA := math.Max(r1.Y, r2.Y)
	xB := math.Min(r1.X+r1.Width, r2.X+r2.Width)
	yB := math.Min(r1.Y+r1.Height, r2.Y+r2.Height)

	interArea := math.Max(0, xB-xA) * math.Max(0, yB-yA)
	if interArea == 0 {
		return 0.0
	}

	union := r1.Area() + r2.Area() - interArea
	if union <= 0 {
		return 0.0
	}
	return interArea / union
}
