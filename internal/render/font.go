// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// FontCache parses a TrueType font once and hands out faces per pixel
// size. A face carries a glyph cache that is not safe for concurrent use,
// so mu guards both the face map and every measure or draw through a
// cached face.
type FontCache struct {
	font *truetype.Font

	mu    sync.Mutex
	faces map[int]font.Face
}

// NewFontCache loads and parses the font file.
func NewFontCache(path string) (*FontCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return &FontCache{font: f, faces: make(map[int]font.Face)}, nil
}

// Face returns a cached face for the given pixel size. Callers that may
// run concurrently must not touch the face directly; fitFontSize and
// renderText serialize on the cache mutex instead.
func (c *FontCache) Face(size int) font.Face {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.face(size)
}

// face is Face without the lock; the caller holds mu.
func (c *FontCache) face(size int) font.Face {
	if size < 1 {
		size = 1
	}
	if f, ok := c.faces[size]; ok {
		return f
	}
	f := truetype.NewFace(c.font, &truetype.Options{Size: float64(size), DPI: 72})
	c.faces[size] = f
	return f
}

// textExtent measures a multi-line block: width is the widest line, height
// is the line count times the face line height.
func textExtent(face font.Face, text string) (w, h int) {
	lines := strings.Split(text, "\n")
	lineHeight := face.Metrics().Height.Ceil()
	for _, line := range lines {
		b, _ := font.BoundString(face, line)
		if lw := (b.Max.X - b.Min.X).Ceil(); lw > w {
			w = lw
		}
	}
	return w, lineHeight * len(lines)
}

// fitFontSize binary-searches the largest size in [1, maxH] whose rendered
// block fits in maxW x maxH. Returns 0 when even size 1 overflows.
func (c *FontCache) fitFontSize(text string, maxW, maxH int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	lo, hi, best := 1, maxH, 0
	for lo <= hi {
		mid := (lo + hi) / 2
		w, h := textExtent(c.face(mid), text)
		if w <= maxW && h <= maxH {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// renderText draws the multi-line text centered on a transparent canvas
// sized to the block extent plus a small margin for glyph overhang. The
// cache mutex is held across layout and drawing.
func (c *FontCache) renderText(size int, text string, col color.NRGBA) *image.NRGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	face := c.face(size)
	lines := strings.Split(text, "\n")
	blockW, blockH := textExtent(face, text)
	margin := face.Metrics().Height.Ceil() / 4
	if margin < 2 {
		margin = 2
	}
	block := image.NewNRGBA(image.Rect(0, 0, blockW+2*margin, blockH+2*margin))

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	drawer := &font.Drawer{
		Dst:  block,
		Src:  image.NewUniform(col),
		Face: face,
	}
	for i, line := range lines {
		b, _ := font.BoundString(face, line)
		lw := (b.Max.X - b.Min.X).Ceil()
		x := margin + (blockW-lw)/2
		y := margin + i*lineHeight + metrics.Ascent.Ceil()
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
	}
	return block
}
