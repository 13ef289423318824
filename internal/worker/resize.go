// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

func resizeExact(img *image.NRGBA, w, h int) *image.NRGBA {
	return imaging.Resize(img, w, h, imaging.Box)
}

func resizeKeepAspect(img *image.NRGBA, width int) *image.NRGBA {
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()
	height := int(math.Round(float64(srcH) * float64(width) / float64(srcW)))
	if height < 1 {
		height = 1
	}
	return imaging.Resize(img, width, height, imaging.Box)
}
