package geom

import "math"

// segmentSamples is the number of steps used when probing a segment against
// an obstacle. Occlusion rays in a world this size move roughly a meter per
// sample, which is finer than any seeded obstacle.
const segmentSamples = 16

// Circle is a circular obstacle footprint centered on (X, Z).
type Circle struct {
	X      float64
	Z      float64
	Radius float64
}

// Rect is an axis-aligned obstacle footprint centered on (X, Z).
type Rect struct {
	X      float64
	Z      float64
	Width  float64
	Height float64
}

// ContainsPoint reports whether (x, z) lies strictly inside the rectangle.
func (r Rect) ContainsPoint(x, z float64) bool {
	halfW := r.Width / 2
	halfH := r.Height / 2
	return x > r.X-halfW && x < r.X+halfW && z > r.Z-halfH && z < r.Z+halfH
}

// Expanded returns the rectangle grown by margin on every side.
func (r Rect) Expanded(margin float64) Rect {
	return Rect{X: r.X, Z: r.Z, Width: r.Width + 2*margin, Height: r.Height + 2*margin}
}

// Field is the static collision geometry for a single tick: the bounding
// world disk plus every zone and wall footprint.
type Field struct {
	Radius  float64
	Circles []Circle
	Rects   []Rect
}

// CollidesAt reports whether a probe disk of the given radius centered at
// (x, z) exits the world disk, overlaps any circle, or penetrates any
// rectangle expanded by the probe radius.
func (f Field) CollidesAt(x, z, radius float64) bool {
	if math.Hypot(x, z)+radius > f.Radius {
		return true
	}
	for _, c := range f.Circles {
		dx := x - c.X
		dz := z - c.Z
		reach := radius + c.Radius
		if dx*dx+dz*dz < reach*reach {
			return true
		}
	}
	for _, r := range f.Rects {
		if r.Expanded(radius).ContainsPoint(x, z) {
			return true
		}
	}
	return false
}

// SegmentHitsCircle reports whether the segment from (ax, az) to (bx, bz)
// passes through the circle. The segment is probed at evenly spaced points,
// endpoints included; a crossing narrower than the sample spacing is not
// detected.
func SegmentHitsCircle(ax, az, bx, bz float64, c Circle) bool {
	r2 := c.Radius * c.Radius
	for i := 0; i <= segmentSamples; i++ {
		t := float64(i) / segmentSamples
		px := ax + (bx-ax)*t
		pz := az + (bz-az)*t
		dx := px - c.X
		dz := pz - c.Z
		if dx*dx+dz*dz < r2 {
			return true
		}
	}
	return false
}

// SegmentHitsRect reports whether the segment from (ax, az) to (bx, bz)
// passes through the rectangle, probed the same way as SegmentHitsCircle.
func SegmentHitsRect(ax, az, bx, bz float64, r Rect) bool {
	for i := 0; i <= segmentSamples; i++ {
		t := float64(i) / segmentSamples
		px := ax + (bx-ax)*t
		pz := az + (bz-az)*t
		if r.ContainsPoint(px, pz) {
			return true
		}
	}
	return false
}
