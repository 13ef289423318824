// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"math"
	"sort"

	"github.com/kurasell/image-translator/internal/pipeline"
)

// Rect is a possibly rotated rectangle. Angle is in degrees, normalized to
// [-90, 90), measured counterclockwise from the x axis.
type Rect struct {
	Center pipeline.Point
	W, H   float64
	Angle  float64
}

// minAreaRect computes the minimum-area enclosing rectangle of a polygon
// via rotating calipers over its convex hull.
func minAreaRect(poly pipeline.Polygon) Rect {
	hull := convexHull(poly)
	if len(hull) == 1 {
		return Rect{Center: hull[0]}
	}
	if len(hull) == 2 {
		dx, dy := hull[1].X-hull[0].X, hull[1].Y-hull[0].Y
		return Rect{
			Center: pipeline.Point{X: (hull[0].X + hull[1].X) / 2, Y: (hull[0].Y + hull[1].Y) / 2},
			W:      math.Hypot(dx, dy),
			Angle:  normalizeAngle(math.Atan2(dy, dx) * 180 / math.Pi),
		}
	}

	best := Rect{}
	bestArea := math.Inf(1)
	for i := range hull {
		j := (i + 1) % len(hull)
		theta := math.Atan2(hull[j].Y-hull[i].Y, hull[j].X-hull[i].X)
		cos, sin := math.Cos(-theta), math.Sin(-theta)

		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range hull {
			x := p.X*cos - p.Y*sin
			y := p.X*sin + p.Y*cos
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
		w, h := maxX-minX, maxY-minY
		if area := w * h; area < bestArea {
			bestArea = area
			cx, cy := (minX+maxX)/2, (minY+maxY)/2
			// Rotate the center back to image space.
			best = Rect{
				Center: pipeline.Point{X: cx*math.Cos(theta) - cy*math.Sin(theta), Y: cx*math.Sin(theta) + cy*math.Cos(theta)},
				W:      w,
				H:      h,
				Angle:  normalizeAngle(theta * 180 / math.Pi),
			}
		}
	}
	// Keep the long side horizontal so text lays out along it.
	if best.H > best.W {
		best.W, best.H = best.H, best.W
		best.Angle = normalizeAngle(best.Angle + 90)
	}
	return best
}

// normalizeAngle maps degrees into [-90, 90).
func normalizeAngle(deg float64) float64 {
	for deg >= 90 {
		deg -= 180
	}
	for deg < -90 {
		deg += 180
	}
	return deg
}

// snapAngle applies the rendering policy: near-horizontal boxes snap flat
// and steep boxes are drawn axis-aligned.
func snapAngle(deg float64) float64 {
	if math.Abs(deg) < 5 || math.Abs(deg) > 45 {
		return 0
	}
	return deg
}

// convexHull is Andrew's monotone chain; output is counterclockwise
// without the closing point.
func convexHull(pts pipeline.Polygon) pipeline.Polygon {
	sorted := make(pipeline.Polygon, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	// Dedupe so collinear duplicates cannot break the chain.
	uniq := sorted[:0]
	for i, p := range sorted {
		if i == 0 || p != sorted[i-1] {
			uniq = append(uniq, p)
		}
	}
	sorted = uniq
	if len(sorted) <= 2 {
		return sorted
	}

	var hull pipeline.Polygon
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

func cross(o, a, b pipeline.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
