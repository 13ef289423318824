// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package join merges the translation branch and the inpainting branch of a
// request. Whichever branch finishes last triggers exactly one render
// emission; entries that never complete are swept out after a deadline.
package join

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kurasell/image-translator/internal/pipeline"
)

// RenderJob is the merged output handed to the renderer.
type RenderJob struct {
	RequestID string
	ImageID   string
	IsLong    bool
	Original  *image.NRGBA
	Inpainted *image.NRGBA
	Items     []pipeline.TranslatedItem
}

// Meta is the request context both branches share. The first deposit for a
// request records it.
type Meta struct {
	ImageID  string
	IsLong   bool
	Original *image.NRGBA
}

type entry struct {
	createdAt time.Time
	meta      Meta

	translated bool
	items      []pipeline.TranslatedItem

	inpainted bool
	image     *image.NRGBA
}

// Coordinator is the mutex-guarded join map. Emit runs outside the lock;
// it must be safe to call from any deposit goroutine.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry

	emit   func(RenderJob)
	expire func(requestID string)
	logger *slog.Logger

	wg   sync.WaitGroup
	stop context.CancelFunc
}

// NewCoordinator wires the emission callbacks.
func NewCoordinator(logger *slog.Logger, emit func(RenderJob), expire func(requestID string)) *Coordinator {
	return &Coordinator{
		entries: make(map[string]*entry),
		emit:    emit,
		expire:  expire,
		logger:  logger,
	}
}

// DepositTranslation writes the translation slot. A duplicate deposit is
// ignored with a warning; slots are write-once.
func (c *Coordinator) DepositTranslation(requestID string, meta Meta, items []pipeline.TranslatedItem) {
	c.mu.Lock()
	e := c.ensure(requestID, meta)
	if e.translated {
		c.mu.Unlock()
		c.logger.Warn("duplicate translation deposit", slog.String("request_id", requestID))
		return
	}
	e.translated = true
	e.items = items
	c.finish(requestID, e)
}

// DepositInpainting writes the inpaint slot.
func (c *Coordinator) DepositInpainting(requestID string, meta Meta, img *image.NRGBA) {
	c.mu.Lock()
	e := c.ensure(requestID, meta)
	if e.inpainted {
		c.mu.Unlock()
		c.logger.Warn("duplicate inpainting deposit", slog.String("request_id", requestID))
		return
	}
	e.inpainted = true
	e.image = img
	c.finish(requestID, e)
}

// ensure is called with the mutex held.
func (c *Coordinator) ensure(requestID string, meta Meta) *entry {
	e, ok := c.entries[requestID]
	if !ok {
		e = &entry{createdAt: time.Now(), meta: meta}
		c.entries[requestID] = e
	}
	return e
}

// finish releases the mutex; when both slots are full it removes the entry
// first and emits after unlocking so the renderer never runs under the
// map lock.
func (c *Coordinator) finish(requestID string, e *entry) {
	if !e.translated || !e.inpainted {
		c.mu.Unlock()
		return
	}
	delete(c.entries, requestID)
	c.mu.Unlock()
	c.emit(RenderJob{
		RequestID: requestID,
		ImageID:   e.meta.ImageID,
		IsLong:    e.meta.IsLong,
		Original:  e.meta.Original,
		Inpainted: e.image,
		Items:     e.items,
	})
}

// Len reports the number of pending entries.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs the stale-entry sweeper until Stop or ctx cancellation.
func (c *Coordinator) Start(ctx context.Context, interval, maxAge time.Duration) {
	ctx, c.stop = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(maxAge)
			}
		}
	}()
}

// Sweep removes entries older than maxAge and reports them on the expiry
// callback.
func (c *Coordinator) Sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	var expired []string
	c.mu.Lock()
	for id, e := range c.entries {
		if e.createdAt.Before(cutoff) {
			delete(c.entries, id)
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()
	for _, id := range expired {
		c.logger.Warn("join entry expired", slog.String("request_id", id))
		c.expire(id)
	}
}

// Stop halts the sweeper. Pending entries stay in the map; the caller
// drains requests before stopping.
func (c *Coordinator) Stop() {
	if c.stop != nil {
		c.stop()
	}
	c.wg.Wait()
}
