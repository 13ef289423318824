// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package inpaint removes source text from images. Jobs are denoised,
// scaled and padded to the model's fixed 512x512 resolution, batched across
// requests, run through the GPU model in micro-batches, then restored to
// their original dimensions with an optional learned upscale.
package inpaint

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/kurasell/image-translator/internal/imageutil"
)

// Resolution is the fixed model input size.
const Resolution = 512

// Job is one preprocessed inpainting task.
type Job struct {
	RequestID string
	ImageID   string
	IsLong    bool

	// Image and Mask are Resolution x Resolution model inputs.
	Image *image.NRGBA
	Mask  *image.Gray

	// UnpaddedW/H are the dimensions before center padding; Scale is the
	// integer downscale factor; OrigW/H are the source dimensions.
	UnpaddedW, UnpaddedH int
	Scale                int
	OrigW, OrigH         int
}

// Preprocess denoises src, downscales it so the longer side fits
// Resolution, and center-pads image and mask with zeros to exactly
// Resolution x Resolution. The mask must match src's dimensions.
func Preprocess(src *image.NRGBA, mask *image.Gray) (*Job, error) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if mw, mh := mask.Bounds().Dx(), mask.Bounds().Dy(); mw != w || mh != h {
		return nil, fmt.Errorf("mask %dx%d does not match image %dx%d", mw, mh, w, h)
	}
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	denoised := imageutil.Bilateral(src, 9, 50)

	maxDim := w
	if h > maxDim {
		maxDim = h
	}
	scale := (maxDim + Resolution - 1) / Resolution
	if scale < 1 {
		scale = 1
	}

	scaledImg := denoised
	scaledMask := mask
	if scale > 1 {
		sw, sh := w/scale, h/scale
		scaledImg = imaging.Resize(denoised, sw, sh, imaging.NearestNeighbor)
		scaledMask = resizeMaskNearest(mask, sw, sh)
	}

	padded, _ := imageutil.CenterPad(scaledImg, Resolution, Resolution, color.NRGBA{})
	paddedMask, _ := imageutil.CenterPadGray(scaledMask, Resolution, Resolution)

	return &Job{
		Image:     padded,
		Mask:      paddedMask,
		UnpaddedW: scaledImg.Bounds().Dx(),
		UnpaddedH: scaledImg.Bounds().Dy(),
		Scale:     scale,
		OrigW:     w,
		OrigH:     h,
	}, nil
}

// resizeMaskNearest keeps the mask strictly binary, which interpolating
// resamplers would not.
func resizeMaskNearest(mask *image.Gray, w, h int) *image.Gray {
	sw, sh := mask.Bounds().Dx(), mask.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := y * sh / h
		for x := 0; x < w; x++ {
			sx := x * sw / w
			out.Pix[y*out.Stride+x] = mask.Pix[sy*mask.Stride+sx]
		}
	}
	return out
}

// Postprocess undoes Preprocess on a model output: crop away the center
// padding, then restore the original resolution through the upscaler when
// the job was downscaled. Upscaler failures fall back to a cubic resize.
func Postprocess(ctx context.Context, job *Job, out *image.NRGBA, upscaler Upscaler) (*image.NRGBA, error) {
	if out.Bounds().Dx() != Resolution || out.Bounds().Dy() != Resolution {
		return nil, fmt.Errorf("model output is %dx%d, want %dx%d",
			out.Bounds().Dx(), out.Bounds().Dy(), Resolution, Resolution)
	}
	cropped := imageutil.CropCenter(out, job.UnpaddedW, job.UnpaddedH)
	if job.Scale <= 1 {
		if cropped.Bounds().Dx() != job.OrigW || cropped.Bounds().Dy() != job.OrigH {
			cropped = imageutil.ToNRGBA(imaging.Resize(cropped, job.OrigW, job.OrigH, imaging.CatmullRom))
		}
		return cropped, nil
	}

	restored, err := upscale(ctx, cropped, job, upscaler)
	if err != nil {
		return imageutil.ToNRGBA(imaging.Resize(cropped, job.OrigW, job.OrigH, imaging.CatmullRom)), nil //nolint:nilerr
	}
	return restored, nil
}

func upscale(ctx context.Context, cropped *image.NRGBA, job *Job, upscaler Upscaler) (*image.NRGBA, error) {
	if upscaler == nil {
		return nil, fmt.Errorf("no upscaler configured")
	}
	w, h := cropped.Bounds().Dx(), cropped.Bounds().Dy()
	padW, padH := nextMultiple(w, 64), nextMultiple(h, 64)
	padded := cropped
	if padW != w || padH != h {
		padded = imageutil.ReflectPad(cropped, padW, padH)
	}
	ups, err := upscaler.Upscale(ctx, padded)
	if err != nil {
		return nil, err
	}
	factor := ups.Bounds().Dx() / padW
	if factor < 1 || ups.Bounds().Dx() != padW*factor || ups.Bounds().Dy() != padH*factor {
		return nil, fmt.Errorf("upscaler returned %dx%d for %dx%d input",
			ups.Bounds().Dx(), ups.Bounds().Dy(), padW, padH)
	}

	// Cut the padding away at the upscaled resolution, then resize for the
	// residual factor when the model's fixed factor is not enough.
	cut := image.NewNRGBA(image.Rect(0, 0, w*factor, h*factor))
	for y := 0; y < h*factor; y++ {
		copy(cut.Pix[y*cut.Stride:y*cut.Stride+cut.Stride], ups.Pix[y*ups.Stride:])
	}
	if cut.Bounds().Dx() != job.OrigW || cut.Bounds().Dy() != job.OrigH {
		cut = imageutil.ToNRGBA(imaging.Resize(cut, job.OrigW, job.OrigH, imaging.CatmullRom))
	}
	return cut, nil
}

func nextMultiple(v, m int) int {
	if r := v % m; r != 0 {
		return v + m - r
	}
	return v
}
