// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus counters for the worker. Everything
// here is observational; no pipeline behavior depends on it.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the worker's instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	EnvelopesReceived  prometheus.Counter
	Emissions          *prometheus.CounterVec
	StageFailures      *prometheus.CounterVec
	InpaintBatchSize   *prometheus.HistogramVec
	TranslationSeconds prometheus.Histogram
	PendingTasks       prometheus.Gauge
}

// New registers all instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EnvelopesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_envelopes_received_total",
			Help: "Envelopes popped from the tasks queue.",
		}),
		Emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_emissions_total",
			Help: "Terminal emissions by outcome.",
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_stage_failures_total",
			Help: "Request failures by pipeline stage.",
		}, []string{"stage"}),
		InpaintBatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_inpaint_batch_size",
			Help:    "Collect batch sizes at flush time.",
			Buckets: prometheus.LinearBuckets(1, 2, 9),
		}, []string{"reason"}),
		TranslationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_translation_seconds",
			Help:    "Wall time of translation batches including rate-limit waits.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		PendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_pending_tasks",
			Help: "Requests accepted but not yet terminally emitted.",
		}),
	}
	reg.MustRegister(m.EnvelopesReceived, m.Emissions, m.StageFailures,
		m.InpaintBatchSize, m.TranslationSeconds, m.PendingTasks)
	return m
}

// Serve runs a /metrics listener until ctx is cancelled. addr may be
// empty, in which case nothing is served.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", slog.String("error", err.Error()))
		}
	}()
}
