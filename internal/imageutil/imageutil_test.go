// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package imageutil

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := solid(32, 24, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	data, err := EncodeJPEG(src, 90)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, 32, decoded.Bounds().Dx())
	require.Equal(t, 24, decoded.Bounds().Dy())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	require.Error(t, err)
}

func TestCenterPadCropRoundTrip(t *testing.T) {
	src := solid(100, 60, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	padded, off := CenterPad(src, 128, 128, color.NRGBA{})
	require.Equal(t, 128, padded.Bounds().Dx())
	require.Equal(t, image.Pt(14, 34), off)

	// Padding is zero-filled outside the placed image.
	require.Equal(t, color.NRGBA{}, padded.NRGBAAt(0, 0))

	cropped := CropCenter(padded, 100, 60)
	require.Equal(t, src.Pix, cropped.Pix)
}

func TestCenterPadGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	padded, _ := CenterPadGray(src, 16, 16)
	require.Equal(t, uint8(0), padded.GrayAt(0, 0).Y)
	require.Equal(t, uint8(255), padded.GrayAt(8, 8).Y)
}

func TestReflectPad(t *testing.T) {
	src := solid(10, 10, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	src.SetNRGBA(9, 9, color.NRGBA{R: 9, G: 9, B: 9, A: 255})

	out := ReflectPad(src, 12, 12)
	require.Equal(t, 12, out.Bounds().Dx())
	// Row 10 mirrors row 8, row 11 mirrors row 7.
	require.Equal(t, src.NRGBAAt(8, 8), out.NRGBAAt(8, 10))
	require.Equal(t, src.NRGBAAt(9, 9), out.NRGBAAt(9, 9))
}

func TestBilateralPreservesSolid(t *testing.T) {
	src := solid(20, 20, color.NRGBA{R: 128, G: 64, B: 32, A: 255})
	out := Bilateral(src, 9, 50)
	require.Equal(t, src.Pix, out.Pix)
}

func TestLabRoundTrip(t *testing.T) {
	colors := []color.NRGBA{
		{R: 0, G: 0, B: 0, A: 255},
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 37, G: 120, B: 200, A: 255},
	}
	for _, c := range colors {
		lab := RGBToLab(c.R, c.G, c.B)
		r, g, b := LabToRGB(lab)
		require.InDelta(t, c.R, r, 1)
		require.InDelta(t, c.G, g, 1)
		require.InDelta(t, c.B, b, 1)
	}
}

func TestContrastRatio(t *testing.T) {
	black := color.NRGBA{A: 255}
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	require.InDelta(t, 21.0, ContrastRatio(black, white), 0.01)
	require.InDelta(t, 1.0, ContrastRatio(white, white), 0.001)
	// Symmetric.
	require.Equal(t, ContrastRatio(black, white), ContrastRatio(white, black))
}

func TestRelativeLuminance(t *testing.T) {
	require.InDelta(t, 0.0, RelativeLuminance(0, 0, 0), 0.001)
	require.InDelta(t, 1.0, RelativeLuminance(255, 255, 255), 0.001)
}
