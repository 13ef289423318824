// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package ocr

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/kurasell/image-translator/internal/imageutil"
	"github.com/kurasell/image-translator/internal/onnxrt"
	"github.com/kurasell/image-translator/internal/pipeline"
)

const (
	// detMaxSide caps the detector input; larger images are scaled down.
	detMaxSide = 960
	// detThreshold binarizes the detector's probability map.
	detThreshold = 0.3
	// detBoxPad grows detected regions slightly so the recognizer sees
	// full glyphs.
	detBoxPad = 4

	recHeight   = 48
	recMaxWidth = 320
)

// ONNX pairs a DB-style text detector with a CTC recognizer. A single
// mutex serializes Detect: the sessions hold one GPU/CPU slot and are not
// safe for concurrent Run calls.
type ONNX struct {
	mu      sync.Mutex
	det     *ort.DynamicAdvancedSession
	rec     *ort.DynamicAdvancedSession
	charset []rune
}

// NewONNX loads both sessions and the recognizer charset (one rune per
// line, index 0 reserved for the CTC blank).
func NewONNX(detPath, recPath, charsetPath, libraryPath string, useCUDA bool) (*ONNX, error) {
	if err := onnxrt.Init(libraryPath); err != nil {
		return nil, err
	}
	charset, err := loadCharset(charsetPath)
	if err != nil {
		return nil, err
	}
	opts, err := onnxrt.NewSessionOptions(useCUDA)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	det, err := ort.NewDynamicAdvancedSession(detPath, []string{"input"}, []string{"output"}, opts)
	if err != nil {
		return nil, fmt.Errorf("load detector %s: %w", detPath, err)
	}
	rec, err := ort.NewDynamicAdvancedSession(recPath, []string{"input"}, []string{"output"}, opts)
	if err != nil {
		_ = det.Destroy()
		return nil, fmt.Errorf("load recognizer %s: %w", recPath, err)
	}
	return &ONNX{det: det, rec: rec, charset: charset}, nil
}

func loadCharset(path string) ([]rune, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open charset: %w", err)
	}
	defer func() { _ = f.Close() }()
	// Index 0 is the CTC blank.
	charset := []rune{0}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := []rune(scanner.Text())
		if len(line) > 0 {
			charset = append(charset, line[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read charset: %w", err)
	}
	return charset, nil
}

// Warmup implements Engine.
func (o *ONNX) Warmup(ctx context.Context) error {
	blank := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	_, err := o.Detect(ctx, blank)
	return err
}

// Detect implements Engine.
func (o *ONNX) Detect(_ context.Context, img *image.NRGBA) ([]pipeline.TextBox, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	regions, err := o.detectRegions(img)
	if err != nil {
		return nil, err
	}
	boxes := make([]pipeline.TextBox, 0, len(regions))
	for _, r := range regions {
		text, score, err := o.recognize(img, r)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		boxes = append(boxes, pipeline.TextBox{
			Polygon: pipeline.Polygon{
				{X: float64(r.Min.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Max.Y)},
				{X: float64(r.Min.X), Y: float64(r.Max.Y)},
			},
			Text:  text,
			Score: score,
		})
	}
	return boxes, nil
}

// detectRegions runs the detector and extracts axis-aligned regions from
// the binarized probability map via connected components.
func (o *ONNX) detectRegions(img *image.NRGBA) ([]image.Rectangle, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	// Detector input: longest side capped, both sides multiples of 32.
	scale := 1.0
	if m := max(w, h); m > detMaxSide {
		scale = float64(detMaxSide) / float64(m)
	}
	dw := roundToMultiple(float64(w)*scale, 32)
	dh := roundToMultiple(float64(h)*scale, 32)
	scaled := imageutil.ToNRGBA(resize.Resize(uint(dw), uint(dh), img, resize.Bilinear))

	data := nchwNormalize(scaled, dw, dh)
	in, err := ort.NewTensor(ort.NewShape(1, 3, int64(dh), int64(dw)), data)
	if err != nil {
		return nil, fmt.Errorf("create detector tensor: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(dh), int64(dw)))
	if err != nil {
		return nil, fmt.Errorf("create detector output: %w", err)
	}
	defer out.Destroy()
	if err := o.det.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("run detector: %w", err)
	}

	binary := make([]bool, dw*dh)
	for i, v := range out.GetData() {
		binary[i] = v > detThreshold
	}
	comps := connectedComponents(binary, dw, dh)

	sx := float64(w) / float64(dw)
	sy := float64(h) / float64(dh)
	regions := make([]image.Rectangle, 0, len(comps))
	for _, c := range comps {
		r := image.Rect(
			int(float64(c.Min.X)*sx)-detBoxPad,
			int(float64(c.Min.Y)*sy)-detBoxPad,
			int(float64(c.Max.X)*sx)+detBoxPad,
			int(float64(c.Max.Y)*sy)+detBoxPad,
		).Intersect(image.Rect(0, 0, w, h))
		if r.Dx() >= 8 && r.Dy() >= 8 {
			regions = append(regions, r)
		}
	}
	return regions, nil
}

// recognize crops a region, letterboxes it to the recognizer input and
// greedy-decodes the CTC output.
func (o *ONNX) recognize(img *image.NRGBA, region image.Rectangle) (string, float64, error) {
	crop := image.NewNRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	for y := 0; y < region.Dy(); y++ {
		srcOff := (region.Min.Y+y)*img.Stride + region.Min.X*4
		copy(crop.Pix[y*crop.Stride:y*crop.Stride+region.Dx()*4], img.Pix[srcOff:])
	}

	rw := region.Dx() * recHeight / region.Dy()
	if rw > recMaxWidth {
		rw = recMaxWidth
	}
	if rw < 8 {
		rw = 8
	}
	scaled := imageutil.ToNRGBA(resize.Resize(uint(rw), recHeight, crop, resize.Bilinear))
	// Zero padding around the glyphs decodes as blanks.
	padded, _ := imageutil.CenterPad(scaled, recMaxWidth, recHeight, color.NRGBA{})

	data := nchwNormalize(padded, recMaxWidth, recHeight)
	in, err := ort.NewTensor(ort.NewShape(1, 3, recHeight, recMaxWidth), data)
	if err != nil {
		return "", 0, fmt.Errorf("create recognizer tensor: %w", err)
	}
	defer in.Destroy()

	steps := recMaxWidth / 8
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(steps), int64(len(o.charset))))
	if err != nil {
		return "", 0, fmt.Errorf("create recognizer output: %w", err)
	}
	defer out.Destroy()
	if err := o.rec.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return "", 0, fmt.Errorf("run recognizer: %w", err)
	}

	text, score := o.ctcDecode(out.GetData(), steps)
	return text, score, nil
}

// ctcDecode is a greedy best-path decode with blank and repeat collapsing.
func (o *ONNX) ctcDecode(logits []float32, steps int) (string, float64) {
	classes := len(o.charset)
	var runes []rune
	var scoreSum float64
	var scoreN int
	prev := -1
	for t := 0; t < steps; t++ {
		row := logits[t*classes : (t+1)*classes]
		best, bestV := 0, float32(math.Inf(-1))
		for c, v := range row {
			if v > bestV {
				best, bestV = c, v
			}
		}
		if best != 0 && best != prev && best < classes {
			runes = append(runes, o.charset[best])
			scoreSum += softmaxProb(row, best)
			scoreN++
		}
		prev = best
	}
	if scoreN == 0 {
		return "", 0
	}
	return string(runes), scoreSum / float64(scoreN)
}

func softmaxProb(row []float32, idx int) float64 {
	var maxV float32 = row[0]
	for _, v := range row {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - maxV))
	}
	return math.Exp(float64(row[idx]-maxV)) / sum
}

// Close releases both sessions.
func (o *ONNX) Close() error {
	err1 := o.det.Destroy()
	err2 := o.rec.Destroy()
	if err1 != nil {
		return err1
	}
	return err2
}

func nchwNormalize(img *image.NRGBA, w, h int) []float32 {
	hw := w * h
	data := make([]float32, 3*hw)
	// ImageNet-style normalization used by the exported models.
	means := [3]float32{0.485, 0.456, 0.406}
	stds := [3]float32{0.229, 0.224, 0.225}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*img.Stride + x*4
			i := y*w + x
			data[i] = (float32(img.Pix[o])/255 - means[0]) / stds[0]
			data[hw+i] = (float32(img.Pix[o+1])/255 - means[1]) / stds[1]
			data[2*hw+i] = (float32(img.Pix[o+2])/255 - means[2]) / stds[2]
		}
	}
	return data
}

type component struct {
	Min, Max image.Point
}

// connectedComponents labels 4-connected true pixels and returns each
// component's bounding box. Iterative flood fill, no recursion.
func connectedComponents(binary []bool, w, h int) []component {
	visited := make([]bool, len(binary))
	var comps []component
	var stack []int
	for start := range binary {
		if !binary[start] || visited[start] {
			continue
		}
		c := component{Min: image.Pt(w, h), Max: image.Pt(0, 0)}
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w
			if x < c.Min.X {
				c.Min.X = x
			}
			if y < c.Min.Y {
				c.Min.Y = y
			}
			if x > c.Max.X {
				c.Max.X = x
			}
			if y > c.Max.Y {
				c.Max.Y = y
			}
			for _, n := range [4]int{idx - 1, idx + 1, idx - w, idx + w} {
				if n < 0 || n >= len(binary) {
					continue
				}
				if (n == idx-1 && x == 0) || (n == idx+1 && x == w-1) {
					continue
				}
				if binary[n] && !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}
		comps = append(comps, c)
	}
	return comps
}

func roundToMultiple(v float64, m int) int {
	r := int(math.Round(v/float64(m))) * m
	if r < m {
		r = m
	}
	return r
}
