// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the dispatcher: it pops envelopes from the broker,
// drives each request through download, OCR, mask synthesis, the parallel
// translate/inpaint branches, render and upload, and guarantees exactly one
// terminal queue emission per accepted envelope.
package worker

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kurasell/image-translator/internal/imageutil"
	"github.com/kurasell/image-translator/internal/inpaint"
	"github.com/kurasell/image-translator/internal/join"
	"github.com/kurasell/image-translator/internal/json"
	"github.com/kurasell/image-translator/internal/maskgen"
	"github.com/kurasell/image-translator/internal/metrics"
	"github.com/kurasell/image-translator/internal/ocr"
	"github.com/kurasell/image-translator/internal/pipeline"
	"github.com/kurasell/image-translator/internal/pool"
	"github.com/kurasell/image-translator/internal/queue"
	"github.com/kurasell/image-translator/internal/translate"
)

const (
	// admissionPollInterval is how long the pop loop sleeps while the
	// pending counter is above the ceiling, and the shutdown poll period.
	admissionPollInterval = time.Second
	// joinSweepInterval drives the coordinator's stale-entry sweep.
	joinSweepInterval = 30 * time.Second
	// emitTimeout bounds terminal queue pushes, which run detached from
	// the request's own lifecycle.
	emitTimeout = 30 * time.Second

	// noTextLongWidth is the resize width for long images without Chinese
	// text.
	noTextLongWidth = 864
)

// Fetcher downloads source image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Renderer turns a joined request into the final image.
type Renderer interface {
	Render(job join.RenderJob) (*image.NRGBA, error)
}

// Uploader mirrors hosting.Uploader without importing it, so tests can fake
// the store without an S3 client.
type Uploader interface {
	Upload(ctx context.Context, img image.Image, key string, quality int, metadata map[string]string) (string, error)
}

// Resizer matches the no-text branch's imaging needs.
type Resizer func(img *image.NRGBA, w, h int) *image.NRGBA

// Deps are the worker's collaborators. All of them are interfaces so the
// end-to-end scenarios run against fakes.
type Deps struct {
	Broker     queue.Client
	Fetcher    Fetcher
	OCR        ocr.Engine
	Translator translate.Translator
	Model      inpaint.Model
	Upscaler   inpaint.Upscaler
	Renderer   Renderer
	Uploader   Uploader
	Metrics    *metrics.Metrics
}

// request is the per-envelope state. once guards the single terminal
// emission; meta is filled after decode for the join branches.
type request struct {
	env    pipeline.Envelope
	logger *slog.Logger
	meta   join.Meta
	once   sync.Once
}

// Worker owns the dispatcher lifecycle.
type Worker struct {
	cfg    Config
	logger *slog.Logger
	deps   Deps

	cpu     *pool.CPU
	batcher *inpaint.Batcher
	joiner  *join.Coordinator

	sem     *semaphore.Weighted
	pending atomic.Int64

	// life outlives the run context so accepted requests finish during
	// the shutdown drain, but is cancelled once the drain deadline
	// passes so blocked rate-limit waits and retry sleeps unwind.
	life    context.Context
	endLife context.CancelFunc

	mu       sync.Mutex
	inflight map[uint64]*request // batcher submission index -> request
	byID     map[string]*request // request id -> request

	wg sync.WaitGroup
}

// New wires the worker. Run starts it.
func New(cfg Config, logger *slog.Logger, deps Deps) *Worker {
	w := &Worker{
		cfg:      cfg,
		logger:   logger,
		deps:     deps,
		cpu:      pool.NewCPU(cfg.CPUWorkerCount),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentTasks),
		inflight: make(map[uint64]*request),
		byID:     make(map[string]*request),
	}
	w.batcher = inpaint.NewBatcher(deps.Model, deps.Upscaler, w.cpu, logger,
		cfg.WorkerCollectBatchSize, cfg.InpainterGPUBatchSize, cfg.BatchMaxWait())
	if deps.Metrics != nil {
		w.batcher.OnFlush = func(reason string, size int) {
			deps.Metrics.InpaintBatchSize.WithLabelValues(reason).Observe(float64(size))
		}
	}
	w.joiner = join.NewCoordinator(logger, w.onJoined, w.onJoinExpired)
	return w
}

// Run blocks until ctx is cancelled, then drains in-flight requests and
// tears the pipeline down in order.
func (w *Worker) Run(ctx context.Context) error {
	if w.deps.OCR != nil {
		if err := w.deps.OCR.Warmup(ctx); err != nil {
			w.logger.Warn("ocr warmup failed", slog.String("error", err.Error()))
		}
	}

	w.life, w.endLife = context.WithCancel(context.Background())

	w.joiner.Start(ctx, joinSweepInterval, time.Duration(w.cfg.JoinMaxAgeSeconds)*time.Second)
	// The batcher must outlive ctx: accepted requests keep submitting
	// during the shutdown drain. Stop tears it down after the drain.
	w.batcher.Start(context.Background())

	resultsDone := make(chan struct{})
	go w.consumeResults(resultsDone)

	w.logger.Info("worker started",
		slog.Int64("max_concurrent_tasks", w.cfg.MaxConcurrentTasks),
		slog.Int64("max_pending_tasks", w.cfg.MaxPendingTasks))
	w.popLoop(ctx)

	w.drain()
	w.endLife()
	w.batcher.Stop()
	<-resultsDone
	w.joiner.Stop()
	w.wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

// popLoop is the single reader of the tasks queue.
func (w *Worker) popLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if w.pending.Load() >= w.cfg.MaxPendingTasks {
			select {
			case <-ctx.Done():
				return
			case <-time.After(admissionPollInterval):
			}
			continue
		}

		payload, err := w.deps.Broker.PopBlocking(ctx, pipeline.TasksQueue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("pop failed", slog.String("error", err.Error()))
			continue
		}
		if w.deps.Metrics != nil {
			w.deps.Metrics.EnvelopesReceived.Inc()
		}

		// A popped envelope is ours; if shutdown interrupts the permit
		// wait, hand it back to the broker rather than dropping it.
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.requeue(payload)
			return
		}
		w.accept(payload)
	}
}

func (w *Worker) requeue(payload []byte) {
	pushCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := w.deps.Broker.Push(pushCtx, pipeline.TasksQueue, payload); err != nil {
		w.logger.Error("failed to requeue envelope on shutdown", slog.String("error", err.Error()))
	}
}

// accept decodes the envelope and launches its request goroutine. The
// permit is already held.
func (w *Worker) accept(payload []byte) {
	w.setPending(w.pending.Add(1))

	var env pipeline.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.ImageURL == "" {
		if err == nil {
			err = fmt.Errorf("missing image_url")
		}
		// No usable identity; emit with a placeholder so the producer
		// still sees the failure.
		imageID := env.ImageID
		if imageID == "" {
			imageID = "N/A"
		}
		w.logger.Error("undecodable envelope", slog.String("error", err.Error()))
		w.emitError(imageID, pipeline.NewStageError(pipeline.StageEnvelope, err))
		w.setPending(w.pending.Add(-1))
		w.sem.Release(1)
		return
	}
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}

	rc := &request{
		env:    env,
		logger: w.logger.With(slog.String("request_id", env.RequestID), slog.String("image_id", env.ImageID)),
	}
	w.mu.Lock()
	w.byID[env.RequestID] = rc
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		// Accepted requests run to a terminal emission even during
		// shutdown drain; life is only cancelled once the drain
		// deadline passes.
		w.process(w.life, rc)
	}()
}

// process runs one request up to the point where the asynchronous branches
// take over.
func (w *Worker) process(ctx context.Context, rc *request) {
	data, err := w.deps.Fetcher.Fetch(ctx, rc.env.ImageURL)
	if err != nil {
		w.fail(rc, pipeline.StageDownload, err)
		return
	}

	var img *image.NRGBA
	if err := w.cpu.Run(ctx, func() error {
		var derr error
		img, derr = imageutil.Decode(data)
		return derr
	}); err != nil {
		w.fail(rc, pipeline.StageDecode, err)
		return
	}

	boxes, err := w.deps.OCR.Detect(ctx, img)
	if err != nil {
		w.fail(rc, pipeline.StageOCR, err)
		return
	}

	filtered := maskgen.FilterChinese(boxes)
	if len(filtered) == 0 {
		w.noTextBranch(ctx, rc, img)
		return
	}

	rc.meta = join.Meta{ImageID: rc.env.ImageID, IsLong: rc.env.IsLong, Original: img}

	// Inpaint branch: mask, preprocess, submit.
	var job *inpaint.Job
	if err := w.cpu.Run(ctx, func() error {
		mask := maskgen.Synthesize(img.Bounds().Dx(), img.Bounds().Dy(), filtered, w.cfg.MaskPaddingPixels)
		var perr error
		job, perr = inpaint.Preprocess(img, mask)
		return perr
	}); err != nil {
		w.fail(rc, pipeline.StageInpaint, err)
		return
	}
	job.RequestID = rc.env.RequestID
	job.ImageID = rc.env.ImageID
	job.IsLong = rc.env.IsLong

	idx := w.batcher.Submit(job)
	w.mu.Lock()
	w.inflight[idx] = rc
	w.mu.Unlock()

	// Translation branch.
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.translateBranch(ctx, rc, filtered)
	}()
}

// translateBranch calls the translator and deposits the result. A failed
// or mismatched translation deposits empty strings so the join still
// completes (inpaint-only fallback).
func (w *Worker) translateBranch(ctx context.Context, rc *request, filtered []pipeline.TextBox) {
	texts := make([]string, 0, len(filtered))
	textIdx := make([]int, 0, len(filtered))
	for i, b := range filtered {
		if b.Text != "" {
			texts = append(texts, b.Text)
			textIdx = append(textIdx, i)
		}
	}

	start := time.Now()
	translated := w.deps.Translator.TranslateMany(ctx, texts, rc.env.RequestID)
	if w.deps.Metrics != nil {
		w.deps.Metrics.TranslationSeconds.Observe(time.Since(start).Seconds())
	}

	items := make([]pipeline.TranslatedItem, len(filtered))
	for i, b := range filtered {
		items[i] = pipeline.TranslatedItem{Box: b.Polygon, OriginalCharCount: len([]rune(b.Text))}
	}
	if len(translated) == len(texts) {
		for j, i := range textIdx {
			items[i].TranslatedText = translated[j]
		}
	} else {
		rc.logger.Warn("translation failed, rendering inpaint-only",
			slog.Int("texts", len(texts)), slog.Int("translated", len(translated)))
		if w.deps.Metrics != nil {
			w.deps.Metrics.StageFailures.WithLabelValues(string(pipeline.StageTranslation)).Inc()
		}
	}
	w.joiner.DepositTranslation(rc.env.RequestID, rc.meta, items)
}

// consumeResults correlates batcher results back to their requests.
func (w *Worker) consumeResults(done chan<- struct{}) {
	defer close(done)
	for res := range w.batcher.Results() {
		w.mu.Lock()
		rc, ok := w.inflight[res.Index]
		delete(w.inflight, res.Index)
		w.mu.Unlock()
		if !ok {
			w.logger.Error("inpaint result with unknown index", slog.Uint64("index", res.Index))
			continue
		}
		if res.Err != nil {
			w.fail(rc, pipeline.StageInpaint, res.Err)
			continue
		}
		w.joiner.DepositInpainting(rc.env.RequestID, rc.meta, res.Image)
	}
}

// onJoined renders and uploads a merged request.
func (w *Worker) onJoined(job join.RenderJob) {
	w.mu.Lock()
	rc, ok := w.byID[job.RequestID]
	w.mu.Unlock()
	if !ok {
		w.logger.Error("render job for unknown request", slog.String("request_id", job.RequestID))
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx := context.Background()
		var rendered *image.NRGBA
		if err := w.cpu.Run(ctx, func() error {
			var rerr error
			rendered, rerr = w.deps.Renderer.Render(job)
			return rerr
		}); err != nil {
			w.fail(rc, pipeline.StageRender, err)
			return
		}
		w.upload(ctx, rc, rendered, map[string]string{"type": "translated"})
	}()
}

func (w *Worker) onJoinExpired(requestID string) {
	w.mu.Lock()
	rc, ok := w.byID[requestID]
	w.mu.Unlock()
	if !ok {
		return
	}
	w.fail(rc, pipeline.StageJoin, fmt.Errorf("missing branch after %ds", w.cfg.JoinMaxAgeSeconds))
}

// noTextBranch resizes and uploads images with no (Chinese) text.
func (w *Worker) noTextBranch(ctx context.Context, rc *request, img *image.NRGBA) {
	var resized *image.NRGBA
	if err := w.cpu.Run(ctx, func() error {
		if rc.env.IsLong {
			resized = resizeKeepAspect(img, noTextLongWidth)
		} else {
			resized = resizeExact(img, w.cfg.ResizeTargetWidth, w.cfg.ResizeTargetHeight)
		}
		return nil
	}); err != nil {
		w.fail(rc, pipeline.StageRender, err)
		return
	}
	rc.logger.Info("no translatable text, uploading resized image")
	w.upload(ctx, rc, resized, map[string]string{"type": "resized_no_text"})
}

// upload pushes the final image to the store and emits success.
func (w *Worker) upload(ctx context.Context, rc *request, img *image.NRGBA, metadata map[string]string) {
	key := pipeline.ObjectKey(rc.env.ImageID, rc.env.RequestID, time.Now())
	url, err := w.deps.Uploader.Upload(ctx, img, key, w.cfg.JPEGQuality, metadata)
	if err != nil {
		w.fail(rc, pipeline.StageUpload, err)
		return
	}
	w.succeed(rc, url)
}

func (w *Worker) succeed(rc *request, url string) {
	rc.once.Do(func() {
		payload, _ := json.Marshal(pipeline.SuccessMessage{ImageID: rc.env.ImageID, ImageURL: url})
		w.emit(pipeline.SuccessQueue, payload)
		if w.deps.Metrics != nil {
			w.deps.Metrics.Emissions.WithLabelValues("success").Inc()
		}
		rc.logger.Info("request succeeded", slog.String("url", url))
		w.release(rc)
	})
}

func (w *Worker) fail(rc *request, stage pipeline.Stage, err error) {
	rc.once.Do(func() {
		stageErr := pipeline.NewStageError(stage, err)
		w.emitError(rc.env.ImageID, stageErr)
		if w.deps.Metrics != nil {
			w.deps.Metrics.StageFailures.WithLabelValues(string(stage)).Inc()
			w.deps.Metrics.Emissions.WithLabelValues("error").Inc()
		}
		rc.logger.Error("request failed", slog.String("stage", string(stage)), slog.String("error", stageErr.Error()))
		w.release(rc)
	})
}

func (w *Worker) emitError(imageID string, stageErr *pipeline.StageError) {
	payload, _ := json.Marshal(pipeline.NewErrorMessage(imageID, stageErr.Error()))
	w.emit(pipeline.ErrorQueue, payload)
}

// emit pushes a terminal message with its own deadline; the request
// context may already be gone.
func (w *Worker) emit(queueName string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := w.deps.Broker.Push(ctx, queueName, payload); err != nil {
		w.logger.Error("terminal emission failed",
			slog.String("queue", queueName), slog.String("error", err.Error()))
	}
}

// release frees the request's permit and bookkeeping. Only reachable once
// per request via the emission once.
func (w *Worker) release(rc *request) {
	w.mu.Lock()
	delete(w.byID, rc.env.RequestID)
	w.mu.Unlock()
	w.setPending(w.pending.Add(-1))
	w.sem.Release(1)
}

func (w *Worker) setPending(v int64) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.PendingTasks.Set(float64(v))
	}
}

// drain waits for the pending counter to reach zero, polling once per
// second and logging progress every ten.
func (w *Worker) drain() {
	deadline := time.Now().Add(time.Duration(w.cfg.ShutdownMaxWaitSeconds) * time.Second)
	for i := 0; ; i++ {
		pending := w.pending.Load()
		if pending == 0 {
			return
		}
		if time.Now().After(deadline) {
			w.logger.Warn("shutdown wait elapsed with requests still pending", slog.Int64("pending", pending))
			return
		}
		if i%10 == 0 {
			w.logger.Info("waiting for in-flight requests", slog.Int64("pending", pending))
		}
		time.Sleep(admissionPollInterval)
	}
}

// Pending reports the current pending-task counter.
func (w *Worker) Pending() int64 { return w.pending.Load() }
