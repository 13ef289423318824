// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestNormalizeURL(t *testing.T) {
	require.Equal(t, "https://img.example.com/a.jpg", NormalizeURL("//img.example.com/a.jpg"))
	require.Equal(t, "http://img.example.com/a.jpg", NormalizeURL("http://img.example.com/a.jpg"))
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	data := jpegBytes(t)
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	c := NewClient(testLogger(), 0, time.Millisecond)
	got, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Contains(t, gotUA, "Chrome")
	require.Equal(t, "https://item.taobao.com/", gotReferer)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	data := jpegBytes(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTeapot + 2) // 420, the hosts' rate-limit reply
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	c := NewClient(testLogger(), 3, time.Millisecond)
	got, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.EqualValues(t, 3, calls.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testLogger(), 2, time.Millisecond)
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.ErrorContains(t, err, "3 attempts")
}

func TestFetchClientErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		c := NewClient(testLogger(), 5, time.Millisecond)
		_, err := c.Fetch(context.Background(), srv.URL)
		require.Error(t, err)
		require.ErrorContains(t, err, "unexpected status")
		require.EqualValues(t, 1, calls.Load(), "status %d should fail on first sight", status)
		srv.Close()
	}
}

func TestFetchNormalizesContentType(t *testing.T) {
	var buf bytes.Buffer
	src := image.NewPaletted(image.Rect(0, 0, 8, 8), color.Palette{color.Black, color.White})
	require.NoError(t, gif.Encode(&buf, src, nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := NewClient(testLogger(), 0, time.Millisecond)
	got, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(got))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 8, cfg.Width)
}

func TestFetchContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(testLogger(), 5, time.Second)
	_, err := c.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
}
