// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package hosting

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadPutsObjectAndReturnsCDNURL(t *testing.T) {
	var gotMethod, gotPath, gotContentType, gotCacheControl, gotMeta string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotCacheControl = r.Header.Get("Cache-Control")
		gotMeta = r.Header.Get("x-amz-meta-type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r2, err := NewR2(context.Background(), R2Config{
		Endpoint:  srv.URL,
		Bucket:    "translated",
		Domain:    "https://cdn.example.com/",
		AccessKey: "ak",
		SecretKey: "sk",
	})
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	url, err := r2.Upload(context.Background(), img, "translated_image/2026-08-24/123/main-abcde.jpg", 90,
		map[string]string{"type": "translated"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/translated_image/2026-08-24/123/main-abcde.jpg", url)

	require.Equal(t, http.MethodPut, gotMethod)
	// Path-style addressing keeps the bucket in the path for R2.
	require.Equal(t, "/translated/translated_image/2026-08-24/123/main-abcde.jpg", gotPath)
	require.Equal(t, "image/jpeg", gotContentType)
	require.Equal(t, "public, max-age=31536000, immutable", gotCacheControl)
	require.Equal(t, "translated", gotMeta)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(gotBody))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 16, cfg.Width)
}

func TestUploadPropagatesStoreErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	r2, err := NewR2(context.Background(), R2Config{
		Endpoint:  srv.URL,
		Bucket:    "translated",
		Domain:    "https://cdn.example.com",
		AccessKey: "ak",
		SecretKey: "sk",
	})
	require.NoError(t, err)

	_, err = r2.Upload(context.Background(), image.NewNRGBA(image.Rect(0, 0, 4, 4)), "k.jpg", 90, nil)
	require.Error(t, err)
	require.ErrorContains(t, err, "k.jpg")
}
