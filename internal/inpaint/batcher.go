// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package inpaint

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kurasell/image-translator/internal/pool"
)

// Model runs inpainting inference on a micro-batch. Inputs are
// Resolution x Resolution; the output slice matches the input order.
type Model interface {
	Inpaint(ctx context.Context, images []*image.NRGBA, masks []*image.Gray) ([]*image.NRGBA, error)
}

// Upscaler restores resolution lost to the model's fixed input size. It
// scales by a fixed integer factor decided by the loaded model.
type Upscaler interface {
	Upscale(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error)
}

// Result is one finished job, emitted in completion order. Index is the
// value Submit returned for the job.
type Result struct {
	Index     uint64
	RequestID string
	Image     *image.NRGBA
	Err       error
}

type submission struct {
	index uint64
	job   *Job
}

// Batcher accumulates jobs into per-layout collect batches and flushes them
// to the model when the batch fills or the oldest job has waited maxWait.
// Short and long images batch separately so layout-correlated content stays
// together. The GPU is single-slot: micro-batches from both collectors
// serialize on one mutex while postprocessing overlaps on the CPU pool.
type Batcher struct {
	model    Model
	upscaler Upscaler
	cpu      *pool.CPU
	logger   *slog.Logger

	collectSize int
	gpuBatch    int
	maxWait     time.Duration

	// OnFlush, when set before Start, observes every flush (reason is
	// "size", "timeout" or "shutdown").
	OnFlush func(reason string, size int)

	short   chan submission
	long    chan submission
	results chan Result

	gpuMu     sync.Mutex
	nextIndex uint64
	indexMu   sync.Mutex

	wg      sync.WaitGroup
	postWG  sync.WaitGroup
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewBatcher wires a batcher; Start must be called before Submit.
func NewBatcher(model Model, upscaler Upscaler, cpu *pool.CPU, logger *slog.Logger, collectSize, gpuBatch int, maxWait time.Duration) *Batcher {
	if collectSize < 1 {
		collectSize = 1
	}
	if gpuBatch < 1 {
		gpuBatch = 1
	}
	return &Batcher{
		model:       model,
		upscaler:    upscaler,
		cpu:         cpu,
		logger:      logger,
		collectSize: collectSize,
		gpuBatch:    gpuBatch,
		maxWait:     maxWait,
		short:       make(chan submission, collectSize*4),
		long:        make(chan submission, collectSize*4),
		results:     make(chan Result, collectSize*4),
		stopped:     make(chan struct{}),
	}
}

// Start launches the two collector goroutines.
func (b *Batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(2)
	go b.collect(ctx, b.short, "short")
	go b.collect(ctx, b.long, "long")
}

// Submit queues a job and returns its correlation index. It blocks only
// when the per-layout queue is saturated, which backpressures the
// dispatcher.
func (b *Batcher) Submit(job *Job) uint64 {
	b.indexMu.Lock()
	idx := b.nextIndex
	b.nextIndex++
	b.indexMu.Unlock()

	s := submission{index: idx, job: job}
	if job.IsLong {
		b.long <- s
	} else {
		b.short <- s
	}
	return idx
}

// Results streams finished jobs in completion order. The channel is closed
// by Stop after all in-flight work has drained.
func (b *Batcher) Results() <-chan Result {
	return b.results
}

// Stop flushes pending batches, waits for in-flight inference and
// postprocessing, and closes the results channel.
func (b *Batcher) Stop() {
	select {
	case <-b.stopped:
		return
	default:
	}
	close(b.stopped)
	b.cancel()
	b.wg.Wait()
	b.postWG.Wait()
	close(b.results)
}

func (b *Batcher) collect(ctx context.Context, in <-chan submission, layout string) {
	defer b.wg.Done()

	var batch []submission
	var timer *time.Timer
	var timeout <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timeout = nil
		}
	}
	flush := func(reason string) {
		stopTimer()
		if len(batch) == 0 {
			return
		}
		b.logger.Debug("flushing inpaint batch",
			slog.String("layout", layout),
			slog.Int("size", len(batch)),
			slog.String("reason", reason))
		if b.OnFlush != nil {
			b.OnFlush(reason, len(batch))
		}
		b.runBatch(batch)
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			// Pick up submissions still buffered in the channel so every
			// accepted job reaches a result during drain.
			for {
				select {
				case s := <-in:
					batch = append(batch, s)
				default:
					flush("shutdown")
					return
				}
			}
		case s := <-in:
			batch = append(batch, s)
			if len(batch) == 1 {
				timer = time.NewTimer(b.maxWait)
				timeout = timer.C
			}
			if len(batch) >= b.collectSize {
				flush("size")
			}
		case <-timeout:
			timer = nil
			timeout = nil
			flush("timeout")
		}
	}
}

// runBatch splits a collect batch into GPU micro-batches. Inference errors
// fail every job of the affected micro-batch; postprocessing runs on the
// CPU pool concurrently with the next micro-batch.
func (b *Batcher) runBatch(batch []submission) {
	for start := 0; start < len(batch); start += b.gpuBatch {
		end := start + b.gpuBatch
		if end > len(batch) {
			end = len(batch)
		}
		micro := batch[start:end]

		images := make([]*image.NRGBA, len(micro))
		masks := make([]*image.Gray, len(micro))
		for i, s := range micro {
			images[i] = s.job.Image
			masks[i] = s.job.Mask
		}

		// Model calls keep running during shutdown drain, so they use the
		// background context rather than the collector's.
		b.gpuMu.Lock()
		outs, err := b.model.Inpaint(context.Background(), images, masks)
		b.gpuMu.Unlock()

		if err == nil && len(outs) != len(micro) {
			err = fmt.Errorf("model returned %d outputs for %d inputs", len(outs), len(micro))
		}
		if err != nil {
			for _, s := range micro {
				b.results <- Result{Index: s.index, RequestID: s.job.RequestID, Err: err}
			}
			continue
		}
		for i, s := range micro {
			b.postWG.Add(1)
			go b.postprocess(s, outs[i])
		}
	}
}

func (b *Batcher) postprocess(s submission, out *image.NRGBA) {
	defer b.postWG.Done()
	var restored *image.NRGBA
	err := b.cpu.Run(context.Background(), func() error {
		var perr error
		restored, perr = Postprocess(context.Background(), s.job, out, b.upscaler)
		return perr
	})
	b.results <- Result{Index: s.index, RequestID: s.job.RequestID, Image: restored, Err: err}
}
