// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := testConfig()
	cfg.OCREndpoint = "http://ocr.internal:8868/predict"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero rps", mutate: func(c *Config) { c.TranslationRPS = 0 }},
		{name: "no concurrency", mutate: func(c *Config) { c.MaxConcurrentTasks = 0 }},
		{name: "bad resize target", mutate: func(c *Config) { c.ResizeTargetWidth = 0 }},
		{name: "quality too high", mutate: func(c *Config) { c.JPEGQuality = 101 }},
		{name: "no ocr backend", mutate: func(c *Config) { c.OCREndpoint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestConfigOCRModelPathsSatisfyValidate(t *testing.T) {
	cfg := validConfig()
	cfg.OCREndpoint = ""
	cfg.OCRDetModelPath = "det.onnx"
	cfg.OCRRecModelPath = "rec.onnx"
	cfg.OCRCharsetPath = "charset.txt"
	require.NoError(t, cfg.Validate())
}

func TestConfigDurations(t *testing.T) {
	cfg := Config{WorkerBatchMaxWaitTimeSeconds: 0.5, ImageDownloadRetryDelay: 2}
	require.Equal(t, 500*time.Millisecond, cfg.BatchMaxWait())
	require.Equal(t, 2*time.Second, cfg.DownloadRetryDelay())
}

func TestConfigSlogLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		cfg := Config{LogLevel: level}
		require.Equal(t, want, cfg.SlogLevel())
	}
}
