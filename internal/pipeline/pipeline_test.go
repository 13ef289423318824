// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContainsChinese(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "simplified", in: "你好", want: true},
		{name: "mixed", in: "hello 世界", want: true},
		{name: "latin", in: "Hello", want: false},
		{name: "korean", in: "안녕하세요", want: false},
		{name: "empty", in: "", want: false},
		{name: "digits and punctuation", in: "100% !!", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ContainsChinese(tt.in))
		})
	}
}

func TestSplitImageID(t *testing.T) {
	tests := []struct {
		name        string
		imageID     string
		wantProduct string
		wantSuffix  string
	}{
		{name: "simple", imageID: "p-100", wantProduct: "p", wantSuffix: "100"},
		{name: "multiple dashes split at first", imageID: "prod-a-b", wantProduct: "prod", wantSuffix: "a-b"},
		{name: "no dash", imageID: "plain", wantProduct: "plain", wantSuffix: "plain"},
		{name: "leading dash", imageID: "-x", wantProduct: "", wantSuffix: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product, suffix := SplitImageID(tt.imageID)
			require.Equal(t, tt.wantProduct, product)
			require.Equal(t, tt.wantSuffix, suffix)
		})
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "translated_image/2026-08-24/p/100-r1.jpg", ObjectKey("p-100", "r1", now))
	require.Equal(t, "translated_image/2026-08-24/p/100-abcde.jpg", ObjectKey("p-100", "abcdefgh", now))
	require.Equal(t, "translated_image/2026-08-24/solo/solo-r2.jpg", ObjectKey("solo", "r2", now))
}

func TestStageErrorMessage(t *testing.T) {
	err := NewStageError(StageDownload, errors.New("connection refused"))
	require.Equal(t, "Image download failed: connection refused", err.Error())
	require.ErrorContains(t, err, "Image download failed")

	cause := errors.New("boom")
	wrapped := NewStageError(StageRender, cause)
	require.ErrorIs(t, wrapped, cause)

	require.Equal(t, "Inpainting failed", NewStageError(StageInpaint, nil).Error())
}

func TestPolygonScaleClamp(t *testing.T) {
	poly := Polygon{{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 50, Y: 30}, {X: 10, Y: 30}}

	scaled := poly.Scale(2, 0.5)
	require.Equal(t, Polygon{{X: 20, Y: 5}, {X: 100, Y: 5}, {X: 100, Y: 15}, {X: 20, Y: 15}}, scaled)

	clamped := scaled.Clamp(60, 100)
	for _, v := range clamped {
		require.LessOrEqual(t, v.X, 59.0)
		require.GreaterOrEqual(t, v.X, 0.0)
	}

	c := poly.Centroid()
	require.Equal(t, Point{X: 30, Y: 20}, c)
}

func TestNewErrorMessageTimestamp(t *testing.T) {
	before := float64(time.Now().UnixNano()) / float64(time.Second)
	msg := NewErrorMessage("p-1", "Upload failed: boom")
	after := float64(time.Now().UnixNano()) / float64(time.Second)

	require.Equal(t, "p-1", msg.ImageID)
	require.Equal(t, "Upload failed: boom", msg.ErrorMessage)
	require.GreaterOrEqual(t, msg.Timestamp, before)
	require.LessOrEqual(t, msg.Timestamp, after)
}
