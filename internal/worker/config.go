// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"log/slog"
	"time"
)

// Config is the worker's environment-driven configuration. Field tags are
// consumed by kong in cmd/worker; defaults mirror the production
// deployment.
type Config struct {
	RedisURL string `help:"Broker URL (redis://...)." env:"REDIS_URL" required:""`

	GeminiAPIKey    string  `help:"Translation endpoint API key." env:"GEMINI_API_KEY" required:""`
	GeminiModelName string  `help:"Translation model name." env:"GEMINI_MODEL_NAME" default:"gemini-2.0-flash"`
	GeminiBaseURL   string  `help:"Override the translation endpoint host." env:"GEMINI_BASE_URL" default:""`
	TranslationRPS  float64 `help:"Max translation requests per second, process wide." env:"TRANSLATION_RPS" default:"1"`

	CPUWorkerCount     int   `help:"Slots for CPU-bound image work." env:"CPU_WORKER_COUNT" default:"16"`
	MaxConcurrentTasks int64 `help:"Concurrent in-flight requests." env:"MAX_CONCURRENT_TASKS" default:"100"`
	MaxPendingTasks    int64 `help:"Admission ceiling before the pop loop backs off." env:"MAX_PENDING_TASKS" default:"100"`

	WorkerCollectBatchSize        int     `help:"Inpaint collect batch size per layout." env:"WORKER_COLLECT_BATCH_SIZE" default:"16"`
	InpainterGPUBatchSize         int     `help:"Inpaint GPU micro-batch size." env:"INPAINTER_GPU_BATCH_SIZE" default:"4"`
	WorkerBatchMaxWaitTimeSeconds float64 `help:"Max seconds the oldest queued inpaint job waits before a flush." env:"WORKER_BATCH_MAX_WAIT_TIME_SECONDS" default:"5"`

	MaskPaddingPixels  int  `help:"Pixels each text polygon grows before mask rasterization." env:"MASK_PADDING_PIXELS" default:"1"`
	ResizeTargetHeight int  `help:"Short-layout canvas height." env:"RESIZE_TARGET_HEIGHT" default:"1024"`
	ResizeTargetWidth  int  `help:"Short-layout canvas width." env:"RESIZE_TARGET_WIDTH" default:"1024"`
	JPEGQuality        int  `help:"Output JPEG quality." env:"JPEG_QUALITY" default:"90"`
	UseCUDA            bool `help:"Run ONNX sessions on CUDA." env:"USE_CUDA" default:"false"`

	FontPath string `help:"TrueType font for rendered text." env:"FONT_PATH" required:""`

	R2Endpoint          string `help:"Object store endpoint." env:"R2_ENDPOINT" required:""`
	R2BucketName        string `help:"Object store bucket." env:"R2_BUCKET_NAME" required:""`
	R2Domain            string `help:"Public CDN domain for uploaded keys." env:"R2_DOMAIN" required:""`
	CloudflareAccessKey string `help:"Object store access key id." env:"CLOUDFLARE_ACCESS_KEY_ID" required:""`
	CloudflareSecretKey string `help:"Object store secret key." env:"CLOUDFLARE_SECRET_KEY" required:""`

	ImageDownloadMaxRetries int     `help:"Download retries after the first attempt." env:"IMAGE_DOWNLOAD_MAX_RETRIES" default:"3"`
	ImageDownloadRetryDelay float64 `help:"Base download retry delay in seconds." env:"IMAGE_DOWNLOAD_RETRY_DELAY" default:"2"`

	ShutdownMaxWaitSeconds int    `help:"Seconds to wait for in-flight requests on shutdown." env:"SHUTDOWN_MAX_WAIT_SECONDS" default:"60"`
	JoinMaxAgeSeconds      int    `help:"Seconds before a half-complete join entry is expired." env:"JOIN_MAX_AGE_SECONDS" default:"600"`
	LogLevel               string `help:"Log level." env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
	MetricsAddr            string `help:"Optional Prometheus listen address." env:"METRICS_ADDR" default:""`

	OCREndpoint     string `help:"Remote OCR service URL; empty runs the in-process ONNX models." env:"OCR_ENDPOINT" default:""`
	OCRDetModelPath string `help:"ONNX text detector path." env:"OCR_DET_MODEL_PATH" default:""`
	OCRRecModelPath string `help:"ONNX text recognizer path." env:"OCR_REC_MODEL_PATH" default:""`
	OCRCharsetPath  string `help:"Recognizer charset path." env:"OCR_CHARSET_PATH" default:""`

	InpaintModelPath string `help:"ONNX inpainting model path." env:"INPAINT_MODEL_PATH" default:""`
	UpscaleModelPath string `help:"ONNX upscaler model path; empty disables learned upscaling." env:"UPSCALE_MODEL_PATH" default:""`
	UpscaleFactor    int    `help:"Fixed factor of the upscaler model." env:"UPSCALE_FACTOR" default:"2"`
	OnnxLibraryPath  string `help:"ONNX Runtime shared library path." env:"ONNX_LIBRARY_PATH" default:""`
}

// Validate rejects configurations the constructors cannot catch early.
func (c *Config) Validate() error {
	if c.TranslationRPS <= 0 {
		return fmt.Errorf("TRANSLATION_RPS must be positive, got %v", c.TranslationRPS)
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1, got %d", c.MaxConcurrentTasks)
	}
	if c.ResizeTargetWidth < 1 || c.ResizeTargetHeight < 1 {
		return fmt.Errorf("resize target %dx%d out of range", c.ResizeTargetWidth, c.ResizeTargetHeight)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be in [1,100], got %d", c.JPEGQuality)
	}
	if c.OCREndpoint == "" && (c.OCRDetModelPath == "" || c.OCRRecModelPath == "" || c.OCRCharsetPath == "") {
		return fmt.Errorf("either OCR_ENDPOINT or the OCR model paths must be set")
	}
	return nil
}

// BatchMaxWait converts the batch wait seconds to a duration.
func (c *Config) BatchMaxWait() time.Duration {
	return time.Duration(c.WorkerBatchMaxWaitTimeSeconds * float64(time.Second))
}

// DownloadRetryDelay converts the retry delay seconds to a duration.
func (c *Config) DownloadRetryDelay() time.Duration {
	return time.Duration(c.ImageDownloadRetryDelay * float64(time.Second))
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
