// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package onnxrt owns the process-wide ONNX Runtime environment. The
// runtime library may only be initialized once per process, so every model
// adapter goes through Init.
package onnxrt

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the ONNX Runtime shared library and initializes the
// environment. Subsequent calls return the first call's result; the
// library path of later calls is ignored.
func Init(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("initialize onnxruntime: %w", err)
		}
	})
	return initErr
}

// NewSessionOptions builds session options, appending the CUDA execution
// provider when requested. The caller owns the returned options.
func NewSessionOptions(useCUDA bool) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	// Image kernels run on the worker's CPU pool; keep the runtime's own
	// intra-op parallelism modest.
	if err := opts.SetIntraOpNumThreads(2); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if useCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("create cuda provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	}
	return opts, nil
}
