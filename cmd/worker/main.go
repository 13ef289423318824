// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Command worker runs the image translation pipeline worker: it consumes
// task envelopes from the broker, translates embedded Chinese text to
// Korean, and publishes the hosted result.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kurasell/image-translator/internal/fetch"
	"github.com/kurasell/image-translator/internal/hosting"
	"github.com/kurasell/image-translator/internal/inpaint"
	"github.com/kurasell/image-translator/internal/metrics"
	"github.com/kurasell/image-translator/internal/ocr"
	"github.com/kurasell/image-translator/internal/pprof"
	"github.com/kurasell/image-translator/internal/queue"
	"github.com/kurasell/image-translator/internal/render"
	"github.com/kurasell/image-translator/internal/translate"
	"github.com/kurasell/image-translator/internal/worker"
)

func main() {
	var cfg worker.Config
	kong.Parse(&cfg,
		kong.Name("worker"),
		kong.Description("Image translation pipeline worker."),
		kong.DefaultEnvars(""),
	)
	if err := run(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *worker.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pprof.Run(ctx, logger)

	broker, err := queue.NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() { _ = broker.Close() }()

	var engine ocr.Engine
	if cfg.OCREndpoint != "" {
		engine = ocr.NewRemote(cfg.OCREndpoint)
	} else {
		onnxEngine, err := ocr.NewONNX(cfg.OCRDetModelPath, cfg.OCRRecModelPath,
			cfg.OCRCharsetPath, cfg.OnnxLibraryPath, cfg.UseCUDA)
		if err != nil {
			return fmt.Errorf("load ocr models: %w", err)
		}
		defer func() { _ = onnxEngine.Close() }()
		engine = onnxEngine
	}

	model, err := inpaint.NewONNXModel(cfg.InpaintModelPath, cfg.OnnxLibraryPath, cfg.UseCUDA)
	if err != nil {
		return fmt.Errorf("load inpainting model: %w", err)
	}
	defer func() { _ = model.Close() }()

	var upscaler inpaint.Upscaler
	if cfg.UpscaleModelPath != "" {
		u, err := inpaint.NewONNXUpscaler(cfg.UpscaleModelPath, cfg.OnnxLibraryPath, cfg.UseCUDA, cfg.UpscaleFactor)
		if err != nil {
			return fmt.Errorf("load upscaler model: %w", err)
		}
		defer func() { _ = u.Close() }()
		upscaler = u
	}

	renderer, err := render.NewRenderer(logger, cfg.FontPath, cfg.MaskPaddingPixels,
		cfg.ResizeTargetWidth, cfg.ResizeTargetHeight)
	if err != nil {
		return fmt.Errorf("build renderer: %w", err)
	}

	uploader, err := hosting.NewR2(ctx, hosting.R2Config{
		Endpoint:  cfg.R2Endpoint,
		Bucket:    cfg.R2BucketName,
		Domain:    cfg.R2Domain,
		AccessKey: cfg.CloudflareAccessKey,
		SecretKey: cfg.CloudflareSecretKey,
	})
	if err != nil {
		return fmt.Errorf("build uploader: %w", err)
	}

	m := metrics.New()
	m.Serve(ctx, cfg.MetricsAddr, logger)

	w := worker.New(*cfg, logger, worker.Deps{
		Broker:     broker,
		Fetcher:    fetch.NewClient(logger, cfg.ImageDownloadMaxRetries, cfg.DownloadRetryDelay()),
		OCR:        engine,
		Translator: translate.NewGemini(logger, cfg.GeminiBaseURL, cfg.GeminiModelName, cfg.GeminiAPIKey, cfg.TranslationRPS),
		Model:      model,
		Upscaler:   upscaler,
		Renderer:   renderer,
		Uploader:   uploader,
		Metrics:    m,
	})
	return w.Run(ctx)
}
