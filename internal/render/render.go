// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package render draws translated text back onto the inpainted image. The
// canvas is resized per layout, inpainted regions are locally color
// corrected in LAB space against their surroundings, and each translation
// is fitted, colored for contrast and drawn at the source box's angle.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"

	"github.com/kurasell/image-translator/internal/imageutil"
	"github.com/kurasell/image-translator/internal/join"
	"github.com/kurasell/image-translator/internal/maskgen"
	"github.com/kurasell/image-translator/internal/pipeline"
)

const (
	// longCanvasWidth is the fixed width for the long layout; height keeps
	// the source aspect ratio.
	longCanvasWidth = 860

	// samplingRingOffset/Thickness define the clean-reference ring around
	// each box used for color correction, relative to the mask padding.
	samplingRingOffset    = 4
	samplingRingThickness = 25
	// innerDilation is how far beyond the mask padding corrected pixels
	// are written; otherBoxDilation excludes neighboring boxes from the
	// sampling ring.
	innerDilation    = 1
	otherBoxDilation = 3

	// minCleanPixels below which color correction is skipped for a box.
	minCleanPixels = 50

	// minContrast under which the text color falls back to black/white.
	minContrast = 2.0

	// renderSeed fixes the k-means sampling so re-rendering a job is
	// byte-identical.
	renderSeed = 42
)

// Renderer is safe for concurrent use; per-job state lives on the stack
// and font measuring and drawing serialize on the font cache.
type Renderer struct {
	logger  *slog.Logger
	fonts   *FontCache
	padding int
	targetW int
	targetH int
}

// NewRenderer loads the font and captures the layout configuration.
// padding must equal the mask synthesizer's padding so correction rings
// line up with what was actually inpainted.
func NewRenderer(logger *slog.Logger, fontPath string, padding, targetW, targetH int) (*Renderer, error) {
	fonts, err := NewFontCache(fontPath)
	if err != nil {
		return nil, err
	}
	return &Renderer{logger: logger, fonts: fonts, padding: padding, targetW: targetW, targetH: targetH}, nil
}

// Render produces the final output image for a joined request.
func (r *Renderer) Render(job join.RenderJob) (*image.NRGBA, error) {
	if job.Original == nil || job.Inpainted == nil {
		return nil, fmt.Errorf("render job %s missing images", job.RequestID)
	}
	srcW, srcH := job.Original.Bounds().Dx(), job.Original.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("render job %s has empty source", job.RequestID)
	}

	var tw, th int
	var sx, sy float64
	if job.IsLong {
		// Long images scale isotropically to a fixed width.
		tw = longCanvasWidth
		th = int(math.Round(float64(srcH) * longCanvasWidth / float64(srcW)))
		sx = float64(tw) / float64(srcW)
		sy = sx
	} else {
		tw, th = r.targetW, r.targetH
		sx = float64(tw) / float64(srcW)
		sy = float64(th) / float64(srcH)
	}

	orig := imaging.Resize(job.Original, tw, th, imaging.Box)
	inp := imaging.Resize(job.Inpainted, tw, th, imaging.Box)

	boxes := make([]pipeline.Polygon, len(job.Items))
	for i, item := range job.Items {
		boxes[i] = item.Box.Scale(sx, sy).Clamp(tw, th)
	}

	corrected := imageutil.Clone(inp)
	for i := range boxes {
		r.correctBox(orig, inp, corrected, boxes, i)
	}

	// Composite: original background with corrected inpainted pixels in
	// every (dilated) box region.
	canvas := imageutil.Clone(orig)
	region := image.NewGray(image.Rect(0, 0, tw, th))
	for _, box := range boxes {
		maskgen.FillPolygon(region, maskgen.Expand(box, float64(r.padding+innerDilation), tw, th), 255)
	}
	copyMasked(canvas, corrected, region)

	rng := rand.New(rand.NewSource(renderSeed))
	for i, item := range job.Items {
		if item.TranslatedText == "" {
			continue
		}
		if err := r.drawItem(canvas, orig, boxes[i], item.TranslatedText, rng); err != nil {
			return nil, fmt.Errorf("draw box %d: %w", i, err)
		}
	}
	return canvas, nil
}

// correctBox aligns the inpainted patch's color statistics with a clean
// ring sampled around the box on both images.
func (r *Renderer) correctBox(orig, inp, corrected *image.NRGBA, boxes []pipeline.Polygon, idx int) {
	tw, th := orig.Bounds().Dx(), orig.Bounds().Dy()
	pad := float64(r.padding)

	ring := image.NewGray(image.Rect(0, 0, tw, th))
	maskgen.FillPolygon(ring, maskgen.Expand(boxes[idx], pad+samplingRingOffset+samplingRingThickness, tw, th), 255)
	maskgen.FillPolygon(ring, maskgen.Expand(boxes[idx], pad+samplingRingOffset, tw, th), 0)
	for j, other := range boxes {
		if j != idx {
			maskgen.FillPolygon(ring, maskgen.Expand(other, pad+otherBoxDilation, tw, th), 0)
		}
	}

	var origStats, inpStats labStats
	clean := 0
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			if ring.Pix[y*ring.Stride+x] == 0 {
				continue
			}
			clean++
			origStats.add(labAt(orig, x, y))
			inpStats.add(labAt(inp, x, y))
		}
	}
	if clean < minCleanPixels {
		r.logger.Debug("skipping color correction", slog.Int("box", idx), slog.Int("clean_pixels", clean))
		return
	}
	origMean, origStd := origStats.finish()
	inpMean, inpStd := inpStats.finish()

	inner := image.NewGray(image.Rect(0, 0, tw, th))
	maskgen.FillPolygon(inner, maskgen.Expand(boxes[idx], pad+innerDilation, tw, th), 255)
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			if inner.Pix[y*inner.Stride+x] == 0 {
				continue
			}
			lab := labAt(inp, x, y)
			out := imageutil.Lab{
				L: transferChannel(lab.L, inpMean[0], inpStd[0], origMean[0], origStd[0]),
				A: transferChannel(lab.A, inpMean[1], inpStd[1], origMean[1], origStd[1]),
				B: transferChannel(lab.B, inpMean[2], inpStd[2], origMean[2], origStd[2]),
			}
			cr, cg, cb := imageutil.LabToRGB(out)
			o := y*corrected.Stride + x*4
			corrected.Pix[o] = cr
			corrected.Pix[o+1] = cg
			corrected.Pix[o+2] = cb
		}
	}
}

func transferChannel(v, srcMean, srcStd, dstMean, dstStd float64) float64 {
	if srcStd < 1e-6 {
		return dstMean
	}
	return (v-srcMean)*dstStd/srcStd + dstMean
}

type labStats struct {
	n          float64
	sum, sumSq [3]float64
}

func (s *labStats) add(l imageutil.Lab) {
	s.n++
	for i, v := range [3]float64{l.L, l.A, l.B} {
		s.sum[i] += v
		s.sumSq[i] += v * v
	}
}

func (s *labStats) finish() (mean, std [3]float64) {
	for i := range mean {
		mean[i] = s.sum[i] / s.n
		variance := s.sumSq[i]/s.n - mean[i]*mean[i]
		if variance < 0 {
			variance = 0
		}
		std[i] = math.Sqrt(variance)
	}
	return mean, std
}

func labAt(img *image.NRGBA, x, y int) imageutil.Lab {
	o := y*img.Stride + x*4
	return imageutil.RGBToLab(img.Pix[o], img.Pix[o+1], img.Pix[o+2])
}

// copyMasked overwrites dst pixels with src pixels wherever mask is set.
func copyMasked(dst, src *image.NRGBA, mask *image.Gray) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.Pix[y*mask.Stride+x] != 0 {
				o := y*dst.Stride + x*4
				copy(dst.Pix[o:o+4], src.Pix[y*src.Stride+x*4:])
			}
		}
	}
}

// drawItem fits, colors and draws one translation into its box.
func (r *Renderer) drawItem(canvas, orig *image.NRGBA, box pipeline.Polygon, text string, rng *rand.Rand) error {
	rect := minAreaRect(box)
	angle := snapAngle(rect.Angle)
	boxW, boxH := rect.W, rect.H
	if angle == 0 && math.Abs(rect.Angle) > 45 {
		// Steep boxes render axis-aligned inside their bounding box.
		bb := boundingBox(box)
		rect.Center = pipeline.Point{X: (bb.Min.X + bb.Max.X) / 2, Y: (bb.Min.Y + bb.Max.Y) / 2}
		boxW, boxH = bb.Max.X-bb.Min.X, bb.Max.Y-bb.Min.Y
	}
	if boxW < 1 || boxH < 1 {
		return nil
	}

	size := r.fonts.fitFontSize(text, int(boxW), int(boxH))
	if size == 0 {
		r.logger.Debug("box too small for any font size", slog.Float64("w", boxW), slog.Float64("h", boxH))
		return nil
	}
	textColor := r.pickColor(canvas, orig, box, rng)

	block := r.fonts.renderText(size, text, textColor)
	if angle != 0 {
		block = imaging.Rotate(block, -angle, color.NRGBA{})
	}
	offset := image.Pt(
		int(math.Round(rect.Center.X))-block.Bounds().Dx()/2,
		int(math.Round(rect.Center.Y))-block.Bounds().Dy()/2,
	)
	draw.Draw(canvas, block.Bounds().Add(offset), block, image.Point{}, draw.Over)
	return nil
}

// pickColor chooses the source text color with the best WCAG contrast
// against the box's dominant background color.
func (r *Renderer) pickColor(canvas, orig *image.NRGBA, box pipeline.Polygon, rng *rand.Rand) color.NRGBA {
	bgSamples := samplePolygon(canvas, box, rng)
	origSamples := samplePolygon(orig, box, rng)

	bg := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	if cols := dominantColors(bgSamples, 1, rng); len(cols) > 0 {
		bg = cols[0]
	}

	best := color.NRGBA{A: 255}
	bestContrast := 0.0
	for _, c := range dominantColors(origSamples, 2, rng) {
		if ratio := imageutil.ContrastRatio(c, bg); ratio > bestContrast {
			best, bestContrast = c, ratio
		}
	}
	if bestContrast < minContrast {
		if imageutil.RelativeLuminance(bg.R, bg.G, bg.B) > 0.5 {
			return color.NRGBA{A: 255}
		}
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	return best
}

// samplePolygon collects a 50% random sample of the pixels inside box,
// keeping at least minSamples when available.
func samplePolygon(img *image.NRGBA, box pipeline.Polygon, rng *rand.Rand) []color.NRGBA {
	tw, th := img.Bounds().Dx(), img.Bounds().Dy()
	mask := image.NewGray(image.Rect(0, 0, tw, th))
	maskgen.FillPolygon(mask, box, 255)

	var inside []color.NRGBA
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			if mask.Pix[y*mask.Stride+x] != 0 {
				o := y*img.Stride + x*4
				inside = append(inside, color.NRGBA{R: img.Pix[o], G: img.Pix[o+1], B: img.Pix[o+2], A: 255})
			}
		}
	}
	if len(inside) == 0 {
		return nil
	}

	want := int(float64(len(inside)) * sampleFraction)
	if want < minSamples {
		want = minSamples
	}
	if want >= len(inside) {
		return inside
	}
	rng.Shuffle(len(inside), func(i, j int) { inside[i], inside[j] = inside[j], inside[i] })
	return inside[:want]
}

func boundingBox(poly pipeline.Polygon) struct{ Min, Max pipeline.Point } {
	bb := struct{ Min, Max pipeline.Point }{
		Min: pipeline.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: pipeline.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, p := range poly {
		bb.Min.X = math.Min(bb.Min.X, p.X)
		bb.Min.Y = math.Min(bb.Min.Y, p.Y)
		bb.Max.X = math.Max(bb.Max.X, p.X)
		bb.Max.Y = math.Max(bb.Max.Y, p.Y)
	}
	return bb
}
