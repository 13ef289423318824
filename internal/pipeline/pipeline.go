// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline holds the data model shared by every stage of the image
// translation worker: the queue envelope, OCR text boxes, the inpaint and
// render job payloads, and the stage-tagged error type that terminal error
// emissions are built from.
package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Queue names on the broker. Push and pop sides must agree on these.
const (
	TasksQueue   = "img:translate:tasks"
	SuccessQueue = "img:translate:success"
	ErrorQueue   = "img:translate:error"
)

// Envelope is one ingress queue message. RequestID is assigned by the
// dispatcher when the producer omitted it.
type Envelope struct {
	RequestID string `json:"request_id,omitempty"`
	ImageID   string `json:"image_id"`
	ImageURL  string `json:"image_url"`
	IsLong    bool   `json:"is_long"`
}

// SuccessMessage is pushed to SuccessQueue exactly once per successful
// request. ImageURL is the public URL of the translated image.
type SuccessMessage struct {
	ImageID  string `json:"image_id"`
	ImageURL string `json:"image_url"`
}

// ErrorMessage is pushed to ErrorQueue exactly once per failed request.
type ErrorMessage struct {
	ImageID      string  `json:"image_id"`
	ErrorMessage string  `json:"error_message"`
	Timestamp    float64 `json:"timestamp"`
}

// NewErrorMessage stamps the message with the current unix time.
func NewErrorMessage(imageID, msg string) ErrorMessage {
	return ErrorMessage{ImageID: imageID, ErrorMessage: msg, Timestamp: float64(time.Now().UnixNano()) / float64(time.Second)}
}

// Point is a coordinate in image pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered list of vertices. OCR detections are quadrilaterals
// in reading order (top-left, top-right, bottom-right, bottom-left), but
// downstream code must tolerate other vertex counts.
type Polygon []Point

// Centroid returns the arithmetic mean of the vertices.
func (p Polygon) Centroid() Point {
	var cx, cy float64
	for _, v := range p {
		cx += v.X
		cy += v.Y
	}
	n := float64(len(p))
	return Point{X: cx / n, Y: cy / n}
}

// Scale returns a copy with X scaled by sx and Y scaled by sy.
func (p Polygon) Scale(sx, sy float64) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = Point{X: v.X * sx, Y: v.Y * sy}
	}
	return out
}

// Clamp returns a copy with every vertex clamped into [0,w-1]x[0,h-1].
func (p Polygon) Clamp(w, h int) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = Point{X: clampF(v.X, 0, float64(w-1)), Y: clampF(v.Y, 0, float64(h-1))}
	}
	return out
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TextBox is one OCR detection.
type TextBox struct {
	Polygon Polygon
	Text    string
	Score   float64
}

// ContainsChinese reports whether s contains at least one CJK unified
// ideograph (U+4E00..U+9FFF).
func ContainsChinese(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// TranslatedItem pairs a box with its translated text. TranslatedText may be
// empty, which instructs the renderer to inpaint the box without drawing
// replacement text.
type TranslatedItem struct {
	Box               Polygon
	TranslatedText    string
	OriginalCharCount int
}

// SplitImageID splits image_id at the first '-' into (product, suffix). An
// id without '-' is both its own product and suffix, matching the object
// store layout rules.
func SplitImageID(imageID string) (product, suffix string) {
	if i := strings.Index(imageID, "-"); i >= 0 {
		return imageID[:i], imageID[i+1:]
	}
	return imageID, imageID
}

// ObjectKey builds the object store key for a request:
// translated_image/<date>/<product>/<suffix>-<request_id[:5]>.jpg.
func ObjectKey(imageID, requestID string, now time.Time) string {
	product, suffix := SplitImageID(imageID)
	short := requestID
	if len(short) > 5 {
		short = short[:5]
	}
	return fmt.Sprintf("translated_image/%s/%s/%s-%s.jpg", now.Format("2006-01-02"), product, suffix, short)
}

// Stage identifies which pipeline stage an error originated from.
type Stage string

const (
	StageEnvelope    Stage = "envelope"
	StageDownload    Stage = "download"
	StageDecode      Stage = "decode"
	StageOCR         Stage = "ocr"
	StageTranslation Stage = "translation"
	StageInpaint     Stage = "inpaint"
	StageJoin        Stage = "join"
	StageRender      Stage = "render"
	StageUpload      Stage = "upload"
)

// stageText is the human prefix used in error queue messages.
var stageText = map[Stage]string{
	StageEnvelope:    "Invalid task message",
	StageDownload:    "Image download failed",
	StageDecode:      "Image decode failed",
	StageOCR:         "OCR failed",
	StageTranslation: "Translation failed",
	StageInpaint:     "Inpainting failed",
	StageJoin:        "Result join timed out",
	StageRender:      "Rendering failed",
	StageUpload:      "Upload failed",
}

// StageError wraps a stage failure so that the terminal error emission can
// name the stage in its message.
type StageError struct {
	Stage Stage
	Err   error
}

// NewStageError wraps err with the stage it failed in.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	prefix, ok := stageText[e.Stage]
	if !ok {
		prefix = string(e.Stage)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
