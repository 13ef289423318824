// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package imageutil provides the decode/encode helpers and the small pixel
// kernels (bilateral denoise, sRGB to CIELAB) shared by the inpainting and
// rendering stages.
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Decode decodes raw bytes into NRGBA. All registered formats (JPEG, PNG,
// GIF, BMP, WebP) are accepted.
func Decode(data []byte) (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA converts any image to NRGBA, copying when the input is already
// NRGBA is avoided.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy of img.
func Clone(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}

// CenterPad places img centered on a w x h canvas filled with fill.
// The returned offset is the top-left corner where img was placed.
func CenterPad(img *image.NRGBA, w, h int, fill color.NRGBA) (*image.NRGBA, image.Point) {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if fill != (color.NRGBA{}) {
		draw.Draw(out, out.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	}
	off := image.Pt((w-img.Bounds().Dx())/2, (h-img.Bounds().Dy())/2)
	draw.Draw(out, img.Bounds().Add(off), img, img.Bounds().Min, draw.Src)
	return out, off
}

// CenterPadGray is CenterPad for single-channel masks, zero filled.
func CenterPadGray(img *image.Gray, w, h int) (*image.Gray, image.Point) {
	out := image.NewGray(image.Rect(0, 0, w, h))
	off := image.Pt((w-img.Bounds().Dx())/2, (h-img.Bounds().Dy())/2)
	draw.Draw(out, img.Bounds().Add(off), img, img.Bounds().Min, draw.Src)
	return out, off
}

// CropCenter extracts the centered w x h region as a copy.
func CropCenter(img *image.NRGBA, w, h int) *image.NRGBA {
	x0 := (img.Bounds().Dx() - w) / 2
	y0 := (img.Bounds().Dy() - h) / 2
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), img, image.Pt(x0, y0), draw.Src)
	return out
}

// ReflectPad grows img to w x h by mirroring edge rows and columns on the
// right and bottom. Model-input padding that must not introduce hard seams.
func ReflectPad(img *image.NRGBA, w, h int) *image.NRGBA {
	sw, sh := img.Bounds().Dx(), img.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := reflectIndex(y, sh)
		for x := 0; x < w; x++ {
			sx := reflectIndex(x, sw)
			copy(out.Pix[y*out.Stride+x*4:], img.Pix[sy*img.Stride+sx*4:sy*img.Stride+sx*4+4])
		}
	}
	return out
}

func reflectIndex(i, n int) int {
	if i < n {
		return i
	}
	r := 2*n - 2 - i
	if r < 0 {
		return 0
	}
	return r
}

// Bilateral applies an edge-preserving bilateral filter with a (2r+1)^2
// window where r = d/2, and the given sigma for both the spatial and the
// color domain. Used to denoise inpainting model input.
func Bilateral(img *image.NRGBA, d int, sigma float64) *image.NRGBA {
	r := d / 2
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	// Precompute the spatial weights and a color-distance lookup.
	space := make([]float64, (2*r+1)*(2*r+1))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			space[(dy+r)*(2*r+1)+(dx+r)] = math.Exp(-float64(dx*dx+dy*dy) / (2 * sigma * sigma))
		}
	}
	var colorLUT [256 * 3]float64
	for i := range colorLUT {
		colorLUT[i] = math.Exp(-float64(i*i) / (2 * sigma * sigma))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*img.Stride + x*4
			cr, cg, cb := int(img.Pix[o]), int(img.Pix[o+1]), int(img.Pix[o+2])
			var sumR, sumG, sumB, sumW float64
			for dy := -r; dy <= r; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -r; dx <= r; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					no := ny*img.Stride + nx*4
					nr, ng, nb := int(img.Pix[no]), int(img.Pix[no+1]), int(img.Pix[no+2])
					dist := abs(nr-cr) + abs(ng-cg) + abs(nb-cb)
					wgt := space[(dy+r)*(2*r+1)+(dx+r)] * colorLUT[dist]
					sumR += wgt * float64(nr)
					sumG += wgt * float64(ng)
					sumB += wgt * float64(nb)
					sumW += wgt
				}
			}
			out.Pix[o] = uint8(sumR/sumW + 0.5)
			out.Pix[o+1] = uint8(sumG/sumW + 0.5)
			out.Pix[o+2] = uint8(sumB/sumW + 0.5)
			out.Pix[o+3] = img.Pix[o+3]
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Lab is a CIELAB color (D65 reference white).
type Lab struct {
	L, A, B float64
}

// RGBToLab converts an 8-bit sRGB triple to CIELAB.
func RGBToLab(r8, g8, b8 uint8) Lab {
	r := srgbToLinear(float64(r8) / 255)
	g := srgbToLinear(float64(g8) / 255)
	b := srgbToLinear(float64(b8) / 255)

	x := (0.4124564*r + 0.3575761*g + 0.1804375*b) / 0.95047
	y := 0.2126729*r + 0.7151522*g + 0.0721750*b
	z := (0.0193339*r + 0.1191920*g + 0.9503041*b) / 1.08883

	fx, fy, fz := labF(x), labF(y), labF(z)
	return Lab{L: 116*fy - 16, A: 500 * (fx - fy), B: 200 * (fy - fz)}
}

// LabToRGB converts CIELAB back to 8-bit sRGB, clipping out-of-gamut values.
func LabToRGB(c Lab) (uint8, uint8, uint8) {
	fy := (c.L + 16) / 116
	fx := fy + c.A/500
	fz := fy - c.B/200

	x := labFInv(fx) * 0.95047
	y := labFInv(fy)
	z := labFInv(fz) * 1.08883

	r := 3.2404542*x - 1.5371385*y - 0.4985314*z
	g := -0.9692660*x + 1.8760108*y + 0.0415560*z
	b := 0.0556434*x - 0.2040259*y + 1.0572252*z

	return clamp8(linearToSRGB(r) * 255), clamp8(linearToSRGB(g) * 255), clamp8(linearToSRGB(b) * 255)
}

func srgbToLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func linearToSRGB(c float64) float64 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return 1.055*math.Pow(c, 1/2.4) - 0.055
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

func labFInv(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta {
		return t * t * t
	}
	return 3 * delta * delta * (t - 4.0/29.0)
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// RelativeLuminance is the WCAG relative luminance of an sRGB triple.
func RelativeLuminance(r8, g8, b8 uint8) float64 {
	r := srgbToLinear(float64(r8) / 255)
	g := srgbToLinear(float64(g8) / 255)
	b := srgbToLinear(float64(b8) / 255)
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// ContrastRatio is the WCAG contrast ratio between two sRGB colors, always
// at least 1.
func ContrastRatio(a, b color.NRGBA) float64 {
	la := RelativeLuminance(a.R, a.G, a.B)
	lb := RelativeLuminance(b.R, b.G, b.B)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}
