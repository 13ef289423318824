// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package pprof serves the runtime profiling endpoints on a fixed local
// port. Image kernels and ONNX sessions make CPU and allocation profiles
// the first thing asked for in an incident, so the server is on by default
// and opt-out via DISABLE_PPROF.
package pprof

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"time"
)

const addr = "localhost:6060"

// Run starts the pprof server unless DISABLE_PPROF=true. It returns
// immediately; the server shuts down when ctx is cancelled.
func Run(ctx context.Context, logger *slog.Logger) {
	if os.Getenv("DISABLE_PPROF") == "true" {
		logger.Info("pprof server disabled")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("pprof server listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pprof server failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
