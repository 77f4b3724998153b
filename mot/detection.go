package mot

// Detection is a single raw detector output for one frame: a normalized
// bounding box, the predicted class and the detector confidence.
// Detections are ephemeral; they are consumed by one tracker cycle.
type Detection struct {
	BBox       Rect
	Class      string
	Confidence float64
}

// Valid reports whether the detection geometry is usable: positive size and
// coordinates inside the normalized frame.
func (d Detection) Valid() bool {
	if d.BBox.Width <= 0 || d.BBox.Height <= 0 {
		return false
	}
	if d.BBox.X < 0 || d.BBox.Y < 0 {
		return false
	}
	return d.BBox.X+d.BBox.Width <= 1.0 && d.BBox.Y+d.BBox.Height <= 1.0
}
