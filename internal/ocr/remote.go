// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/kurasell/image-translator/internal/imageutil"
	"github.com/kurasell/image-translator/internal/json"
	"github.com/kurasell/image-translator/internal/pipeline"
)

// Remote calls a sidecar OCR service: JPEG body in, JSON detection array
// out. Both historical result shapes are accepted (see Normalize).
type Remote struct {
	http     *http.Client
	endpoint string
}

// NewRemote builds a client for the given endpoint URL.
func NewRemote(endpoint string) *Remote {
	return &Remote{
		http:     &http.Client{Timeout: 120 * time.Second},
		endpoint: endpoint,
	}
}

// Detect implements Engine. The sidecar serializes its own model access,
// so no client-side gate is needed.
func (r *Remote) Detect(ctx context.Context, img *image.NRGBA) ([]pipeline.TextBox, error) {
	payload, err := imageutil.EncodeJPEG(img, 95)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ocr service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr service status %d", resp.StatusCode)
	}

	var raw []any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse ocr response: %w", err)
	}
	return Normalize(raw)
}

// Warmup implements Engine with a tiny blank probe.
func (r *Remote) Warmup(ctx context.Context) error {
	_, err := r.Detect(ctx, image.NewNRGBA(image.Rect(0, 0, 32, 32)))
	return err
}
