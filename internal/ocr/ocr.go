// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package ocr adapts text detection/recognition models to the pipeline's
// TextBox shape. The worker only ever sees the Engine interface; adapters
// exist for an in-process ONNX session pair and for a remote HTTP service.
package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/kurasell/image-translator/internal/pipeline"
)

// Engine detects and recognizes text on a decoded image.
type Engine interface {
	// Detect returns every recognized text region. Serialization across
	// callers is the adapter's concern.
	Detect(ctx context.Context, img *image.NRGBA) ([]pipeline.TextBox, error)
	// Warmup runs one throwaway inference so the first real request does
	// not pay model initialization latency.
	Warmup(ctx context.Context) error
}

// Normalize converts a JSON-decoded OCR result into TextBoxes. Two
// historical wire shapes exist and both must be accepted:
//
//	nested: [ [ [[x,y],...], [text, score] ], ... ]
//	flat:   [ [ [[x,y],...], text, score ], ... ]
func Normalize(raw []any) ([]pipeline.TextBox, error) {
	boxes := make([]pipeline.TextBox, 0, len(raw))
	for i, entry := range raw {
		item, ok := entry.([]any)
		if !ok {
			return nil, fmt.Errorf("entry %d: expected array, got %T", i, entry)
		}
		var box pipeline.TextBox
		var err error
		switch len(item) {
		case 2:
			box.Polygon, err = parsePolygon(item[0])
			if err == nil {
				box.Text, box.Score, err = parseTextScore(item[1])
			}
		case 3:
			box.Polygon, err = parsePolygon(item[0])
			if err == nil {
				if box.Text, ok = item[1].(string); !ok {
					err = fmt.Errorf("text is %T", item[1])
				}
			}
			if err == nil {
				if box.Score, ok = toFloat(item[2]); !ok {
					err = fmt.Errorf("score is %T", item[2])
				}
			}
		default:
			err = fmt.Errorf("unexpected arity %d", len(item))
		}
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

func parsePolygon(raw any) (pipeline.Polygon, error) {
	pts, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("polygon is %T", raw)
	}
	poly := make(pipeline.Polygon, 0, len(pts))
	for _, p := range pts {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("vertex is %T", p)
		}
		x, okX := toFloat(pair[0])
		y, okY := toFloat(pair[1])
		if !okX || !okY {
			return nil, fmt.Errorf("non-numeric vertex %v", pair)
		}
		poly = append(poly, pipeline.Point{X: x, Y: y})
	}
	if len(poly) < 3 {
		return nil, fmt.Errorf("polygon has %d vertices", len(poly))
	}
	return poly, nil
}

func parseTextScore(raw any) (string, float64, error) {
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return "", 0, fmt.Errorf("text/score is %T", raw)
	}
	text, ok := pair[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("text is %T", pair[0])
	}
	score, ok := toFloat(pair[1])
	if !ok {
		return "", 0, fmt.Errorf("score is %T", pair[1])
	}
	return text, score, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
