// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package join

import (
	"bytes"
	"context"
	"image"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kurasell/image-translator/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

type recorder struct {
	mu      sync.Mutex
	jobs    []RenderJob
	expired []string
}

func (r *recorder) emit(job RenderJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recorder) expire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, id)
}

func (r *recorder) snapshot() ([]RenderJob, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RenderJob(nil), r.jobs...), append([]string(nil), r.expired...)
}

func testMeta() Meta {
	return Meta{
		ImageID:  "12345-main",
		IsLong:   true,
		Original: image.NewNRGBA(image.Rect(0, 0, 4, 4)),
	}
}

func TestEmitsWhenTranslationArrivesLast(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(testLogger(), rec.emit, rec.expire)

	inpainted := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	items := []pipeline.TranslatedItem{{TranslatedText: "안녕", OriginalCharCount: 2}}

	c.DepositInpainting("r1", testMeta(), inpainted)
	require.Equal(t, 1, c.Len())

	c.DepositTranslation("r1", testMeta(), items)
	jobs, _ := rec.snapshot()
	require.Len(t, jobs, 1)
	require.Equal(t, "r1", jobs[0].RequestID)
	require.Equal(t, "12345-main", jobs[0].ImageID)
	require.True(t, jobs[0].IsLong)
	require.Same(t, inpainted, jobs[0].Inpainted)
	require.Equal(t, items, jobs[0].Items)
	require.Zero(t, c.Len())
}

func TestEmitsWhenInpaintingArrivesLast(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(testLogger(), rec.emit, rec.expire)

	c.DepositTranslation("r1", testMeta(), nil)
	require.Equal(t, 1, c.Len())

	c.DepositInpainting("r1", testMeta(), image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	jobs, _ := rec.snapshot()
	require.Len(t, jobs, 1)
	require.Zero(t, c.Len())
}

func TestDuplicateDepositsIgnored(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(testLogger(), rec.emit, rec.expire)

	first := []pipeline.TranslatedItem{{TranslatedText: "일", OriginalCharCount: 1}}
	c.DepositTranslation("r1", testMeta(), first)
	c.DepositTranslation("r1", testMeta(), []pipeline.TranslatedItem{{TranslatedText: "이"}})
	c.DepositInpainting("r1", testMeta(), image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	c.DepositInpainting("r1", testMeta(), image.NewNRGBA(image.Rect(0, 0, 4, 4)))

	jobs, _ := rec.snapshot()
	require.Len(t, jobs, 1)
	require.Equal(t, first, jobs[0].Items)
}

func TestRequestsJoinIndependently(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(testLogger(), rec.emit, rec.expire)

	c.DepositTranslation("r1", testMeta(), nil)
	c.DepositTranslation("r2", testMeta(), nil)
	require.Equal(t, 2, c.Len())

	c.DepositInpainting("r2", testMeta(), image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	jobs, _ := rec.snapshot()
	require.Len(t, jobs, 1)
	require.Equal(t, "r2", jobs[0].RequestID)
	require.Equal(t, 1, c.Len())
}

func TestSweepExpiresStaleEntries(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(testLogger(), rec.emit, rec.expire)

	c.DepositTranslation("stale", testMeta(), nil)
	time.Sleep(5 * time.Millisecond)
	c.DepositTranslation("fresh", testMeta(), nil)

	c.Sweep(4 * time.Millisecond)
	jobs, expired := rec.snapshot()
	require.Empty(t, jobs)
	require.Equal(t, []string{"stale"}, expired)
	require.Equal(t, 1, c.Len())

	// A deposit after expiry recreates the entry instead of joining.
	c.DepositInpainting("stale", testMeta(), image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	jobs, _ = rec.snapshot()
	require.Empty(t, jobs)
	require.Equal(t, 2, c.Len())
}

func TestStartStopSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	c := NewCoordinator(testLogger(), rec.emit, rec.expire)
	c.DepositTranslation("stale", testMeta(), nil)

	c.Start(context.Background(), time.Millisecond, time.Nanosecond)
	require.Eventually(t, func() bool {
		_, expired := rec.snapshot()
		return len(expired) == 1
	}, time.Second, time.Millisecond)
	c.Stop()
}
