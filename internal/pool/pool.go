// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool bounds CPU-heavy work (mask synthesis, inpaint pre/post
// processing, rendering, encode/decode) to a fixed number of concurrent
// slots so that image kernels do not oversubscribe the host.
package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// CPU is a weighted gate over CPU-bound work.
type CPU struct {
	sem *semaphore.Weighted
}

// NewCPU returns a pool with the given number of slots. workers < 1 is
// treated as 1.
func NewCPU(workers int) *CPU {
	if workers < 1 {
		workers = 1
	}
	return &CPU{sem: semaphore.NewWeighted(int64(workers))}
}

// Run executes fn while holding one slot. It blocks until a slot is free or
// ctx is done, in which case fn never runs and the context error is
// returned.
func (p *CPU) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
