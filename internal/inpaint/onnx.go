// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package inpaint

import (
	"context"
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kurasell/image-translator/internal/onnxrt"
)

// ONNXModel runs an exported text-removal model. The model takes a
// four-channel NCHW tensor (RGB in [-1,1] plus the binary mask) and returns
// three-channel output in [-1,1] at the same resolution.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
}

// NewONNXModel loads the model once; the session is reused for every
// micro-batch. The batcher serializes calls, so no internal locking is
// needed.
func NewONNXModel(modelPath, libraryPath string, useCUDA bool) (*ONNXModel, error) {
	if err := onnxrt.Init(libraryPath); err != nil {
		return nil, err
	}
	opts, err := onnxrt.NewSessionOptions(useCUDA)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"output"}, opts)
	if err != nil {
		return nil, fmt.Errorf("load inpainting model %s: %w", modelPath, err)
	}
	return &ONNXModel{session: session}, nil
}

// Inpaint implements Model.
func (m *ONNXModel) Inpaint(_ context.Context, images []*image.NRGBA, masks []*image.Gray) ([]*image.NRGBA, error) {
	n := len(images)
	if n == 0 {
		return nil, nil
	}
	if len(masks) != n {
		return nil, fmt.Errorf("%d images with %d masks", n, len(masks))
	}

	const hw = Resolution * Resolution
	data := make([]float32, n*4*hw)
	for b := 0; b < n; b++ {
		img, mask := images[b], masks[b]
		base := b * 4 * hw
		for y := 0; y < Resolution; y++ {
			for x := 0; x < Resolution; x++ {
				o := y*img.Stride + x*4
				i := y*Resolution + x
				data[base+i] = float32(img.Pix[o])/127.5 - 1
				data[base+hw+i] = float32(img.Pix[o+1])/127.5 - 1
				data[base+2*hw+i] = float32(img.Pix[o+2])/127.5 - 1
				if mask.Pix[y*mask.Stride+x] > 127 {
					data[base+3*hw+i] = 1
				}
			}
		}
	}

	in, err := ort.NewTensor(ort.NewShape(int64(n), 4, Resolution, Resolution), data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), 3, Resolution, Resolution))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("run inpainting model: %w", err)
	}

	outData := out.GetData()
	results := make([]*image.NRGBA, n)
	for b := 0; b < n; b++ {
		img := image.NewNRGBA(image.Rect(0, 0, Resolution, Resolution))
		base := b * 3 * hw
		for y := 0; y < Resolution; y++ {
			for x := 0; x < Resolution; x++ {
				i := y*Resolution + x
				o := y*img.Stride + x*4
				img.Pix[o] = clampUnit(outData[base+i])
				img.Pix[o+1] = clampUnit(outData[base+hw+i])
				img.Pix[o+2] = clampUnit(outData[base+2*hw+i])
				img.Pix[o+3] = 255
			}
		}
		results[b] = img
	}
	return results, nil
}

// Close releases the session.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}

func clampUnit(v float32) uint8 {
	f := (v + 1) * 127.5
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f + 0.5)
}

// ONNXUpscaler wraps a super-resolution model with a fixed integer factor
// (input NCHW RGB in [0,1], output factor-scaled).
type ONNXUpscaler struct {
	session *ort.DynamicAdvancedSession
	factor  int
}

// NewONNXUpscaler loads the model. factor must match the exported model.
func NewONNXUpscaler(modelPath, libraryPath string, useCUDA bool, factor int) (*ONNXUpscaler, error) {
	if err := onnxrt.Init(libraryPath); err != nil {
		return nil, err
	}
	if factor < 2 {
		return nil, fmt.Errorf("upscale factor %d out of range", factor)
	}
	opts, err := onnxrt.NewSessionOptions(useCUDA)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"output"}, opts)
	if err != nil {
		return nil, fmt.Errorf("load upscaler model %s: %w", modelPath, err)
	}
	return &ONNXUpscaler{session: session, factor: factor}, nil
}

// Upscale implements Upscaler.
func (u *ONNXUpscaler) Upscale(_ context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	hw := w * h
	data := make([]float32, 3*hw)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*img.Stride + x*4
			i := y*w + x
			data[i] = float32(img.Pix[o]) / 255
			data[hw+i] = float32(img.Pix[o+1]) / 255
			data[2*hw+i] = float32(img.Pix[o+2]) / 255
		}
	}

	in, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)), data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()
	ow, oh := w*u.factor, h*u.factor
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(oh), int64(ow)))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := u.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("run upscaler model: %w", err)
	}

	outData := out.GetData()
	ohw := ow * oh
	res := image.NewNRGBA(image.Rect(0, 0, ow, oh))
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			i := y*ow + x
			o := y*res.Stride + x*4
			res.Pix[o] = clamp01(outData[i])
			res.Pix[o+1] = clamp01(outData[ohw+i])
			res.Pix[o+2] = clamp01(outData[2*ohw+i])
			res.Pix[o+3] = 255
		}
	}
	return res, nil
}

// Close releases the session.
func (u *ONNXUpscaler) Close() error {
	return u.session.Destroy()
}

func clamp01(v float32) uint8 {
	f := v * 255
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f + 0.5)
}
