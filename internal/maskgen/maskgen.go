// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package maskgen builds the binary inpainting mask from OCR detections:
// boxes are filtered down to those containing CJK ideographs, grown by a
// configured padding, and rasterized onto a single-channel canvas.
package maskgen

import (
	"image"
	"math"
	"sort"

	"github.com/kurasell/image-translator/internal/pipeline"
)

// FilterChinese keeps only boxes whose text contains at least one CJK
// unified ideograph. Everything downstream of OCR operates on this subset.
func FilterChinese(boxes []pipeline.TextBox) []pipeline.TextBox {
	out := make([]pipeline.TextBox, 0, len(boxes))
	for _, b := range boxes {
		if pipeline.ContainsChinese(b.Text) {
			out = append(out, b)
		}
	}
	return out
}

// Expand grows a quadrilateral by padding pixels, moving each vertex
// diagonally away from the polygon center and clamping to the w x h
// bounds. Non-quadrilateral polygons are returned clamped but unpadded.
func Expand(poly pipeline.Polygon, padding float64, w, h int) pipeline.Polygon {
	if len(poly) != 4 || padding == 0 {
		return poly.Clamp(w, h)
	}
	c := poly.Centroid()
	out := make(pipeline.Polygon, 4)
	for i, v := range poly {
		out[i] = pipeline.Point{
			X: v.X + padding*sign(v.X-c.X),
			Y: v.Y + padding*sign(v.Y-c.Y),
		}
	}
	return out.Clamp(w, h)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// FillPolygon rasterizes poly filled with value onto mask using even-odd
// scanline filling.
func FillPolygon(mask *image.Gray, poly pipeline.Polygon, value uint8) {
	if len(poly) < 3 {
		return
	}
	b := mask.Bounds()
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, v := range poly {
		minY = math.Min(minY, v.Y)
		maxY = math.Max(maxY, v.Y)
	}
	y0 := int(math.Max(math.Floor(minY), float64(b.Min.Y)))
	y1 := int(math.Min(math.Ceil(maxY), float64(b.Max.Y-1)))

	xs := make([]float64, 0, len(poly))
	for y := y0; y <= y1; y++ {
		cy := float64(y) + 0.5
		xs = xs[:0]
		for i := range poly {
			a, c := poly[i], poly[(i+1)%len(poly)]
			if (a.Y <= cy) == (c.Y <= cy) {
				continue
			}
			t := (cy - a.Y) / (c.Y - a.Y)
			xs = append(xs, a.X+t*(c.X-a.X))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Max(math.Ceil(xs[i]-0.5), float64(b.Min.X)))
			x1 := int(math.Min(math.Floor(xs[i+1]-0.5), float64(b.Max.X-1)))
			if x1 < x0 {
				continue
			}
			row := mask.Pix[(y-b.Min.Y)*mask.Stride:]
			for x := x0; x <= x1; x++ {
				row[x-b.Min.X] = value
			}
		}
	}
}

// Synthesize rasterizes the padded polygons of the (already filtered) boxes
// onto a zero canvas matching the source dimensions. Mask pixels are 0 or
// 255 only.
func Synthesize(width, height int, boxes []pipeline.TextBox, padding int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	for _, b := range boxes {
		FillPolygon(mask, Expand(b.Polygon, float64(padding), width, height), 255)
	}
	return mask
}
