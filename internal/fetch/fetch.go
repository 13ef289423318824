// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch downloads source images. The upstream image hosts require
// browser-like headers and occasionally answer 420 when rate limited, so
// the client retries transport errors, 5xx and 420 with growing waits and
// normalizes exotic content types to JPEG for downstream decoders.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kurasell/image-translator/internal/imageutil"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	referer   = "https://item.taobao.com/"

	// maxBodySize guards against a misbehaving host streaming forever.
	maxBodySize = 64 << 20
)

// Client fetches image bytes with bounded retries.
type Client struct {
	http       *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
	quality    int
}

// NewClient builds a downloader. maxRetries counts attempts after the
// first; retryDelay is the base delay, grown linearly per attempt.
func NewClient(logger *slog.Logger, maxRetries int, retryDelay time.Duration) *Client {
	return &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		quality:    95,
	}
}

// NormalizeURL turns protocol-relative URLs into https ones.
func NormalizeURL(url string) string {
	if strings.HasPrefix(url, "//") {
		return "https:" + url
	}
	return url
}

// Fetch downloads url and returns bytes guaranteed to decode as JPEG or
// PNG. Other decodable formats are re-encoded to JPEG at quality 95.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = NormalizeURL(url)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Linear growth so a rate-limiting host gets progressively
			// longer breathers.
			wait := c.retryDelay * time.Duration(attempt)
			c.logger.Debug("retrying image download",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		data, contentType, err := c.fetchOnce(ctx, url)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return nil, fmt.Errorf("download %s: %w", url, perm.Unwrap())
			}
			continue
		}
		return c.normalize(data, contentType)
	}
	return nil, fmt.Errorf("download %s after %d attempts: %w", url, c.maxRetries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url string) (data []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == 420 || resp.StatusCode >= 500:
		// 420 is the hosts' rate-limit answer; retried like a 5xx.
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	default:
		// A 404 or 403 will not change on retry.
		return nil, "", backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// normalize re-encodes anything that is not already JPEG or PNG.
func (c *Client) normalize(data []byte, contentType string) ([]byte, error) {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "jpeg") || strings.Contains(ct, "jpg") || strings.Contains(ct, "png") {
		return data, nil
	}
	img, err := imageutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("normalize %q: %w", contentType, err)
	}
	out, err := imageutil.EncodeJPEG(img, c.quality)
	if err != nil {
		return nil, fmt.Errorf("normalize %q: %w", contentType, err)
	}
	c.logger.Debug("re-encoded downloaded image", slog.String("content_type", contentType))
	return out, nil
}
