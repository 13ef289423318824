// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kurasell/image-translator/internal/pipeline"
)

func TestMinAreaRectAxisAligned(t *testing.T) {
	rect := minAreaRect(pipeline.Polygon{
		{X: 10, Y: 20}, {X: 110, Y: 20}, {X: 110, Y: 60}, {X: 10, Y: 60},
	})
	require.InDelta(t, 60, rect.Center.X, 1e-6)
	require.InDelta(t, 40, rect.Center.Y, 1e-6)
	require.InDelta(t, 100, rect.W, 1e-6)
	require.InDelta(t, 40, rect.H, 1e-6)
	require.InDelta(t, 0, rect.Angle, 1e-6)
}

func TestMinAreaRectRotated(t *testing.T) {
	// A 100x40 rectangle rotated by 30 degrees around the origin.
	angle := 30 * math.Pi / 180
	cos, sin := math.Cos(angle), math.Sin(angle)
	base := pipeline.Polygon{{X: -50, Y: -20}, {X: 50, Y: -20}, {X: 50, Y: 20}, {X: -50, Y: 20}}
	rotated := make(pipeline.Polygon, len(base))
	for i, p := range base {
		rotated[i] = pipeline.Point{X: p.X*cos - p.Y*sin + 200, Y: p.X*sin + p.Y*cos + 200}
	}

	rect := minAreaRect(rotated)
	require.InDelta(t, 200, rect.Center.X, 1e-6)
	require.InDelta(t, 200, rect.Center.Y, 1e-6)
	require.InDelta(t, 100, rect.W, 1e-6)
	require.InDelta(t, 40, rect.H, 1e-6)
	require.InDelta(t, 30, math.Abs(rect.Angle), 1e-6)
}

func TestMinAreaRectLongSideHorizontal(t *testing.T) {
	// Tall box: W still reports the long side.
	rect := minAreaRect(pipeline.Polygon{
		{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 20, Y: 100}, {X: 0, Y: 100},
	})
	require.InDelta(t, 100, rect.W, 1e-6)
	require.InDelta(t, 20, rect.H, 1e-6)
	require.GreaterOrEqual(t, math.Abs(rect.Angle), 45.0)
}

func TestMinAreaRectDegenerate(t *testing.T) {
	point := minAreaRect(pipeline.Polygon{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}})
	require.Equal(t, pipeline.Point{X: 5, Y: 5}, point.Center)
	require.Zero(t, point.W)

	segment := minAreaRect(pipeline.Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 0}})
	require.InDelta(t, 10, segment.W, 1e-6)
	require.InDelta(t, 0, segment.Angle, 1e-6)
}

func TestNormalizeAngle(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{89, 89},
		{90, -90},
		{135, -45},
		{-90, -90},
		{-91, 89},
		{270, -90},
	}
	for _, tt := range tests {
		require.InDelta(t, tt.want, normalizeAngle(tt.in), 1e-9, "normalizeAngle(%v)", tt.in)
	}
}

func TestSnapAngle(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{4.9, 0},
		{-4.9, 0},
		{5, 5},
		{30, 30},
		{-30, -30},
		{45, 45},
		{46, 0},
		{-80, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, snapAngle(tt.in), "snapAngle(%v)", tt.in)
	}
}

func TestConvexHull(t *testing.T) {
	hull := convexHull(pipeline.Polygon{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10},
		{X: 5, Y: 5}, {X: 5, Y: 0}, {X: 0, Y: 0},
	})
	require.Len(t, hull, 4)
	for _, corner := range []pipeline.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}} {
		require.Contains(t, hull, corner)
	}
}
