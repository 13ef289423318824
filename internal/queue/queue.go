// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue is the broker client. It is the only package that talks to
// Redis: the dispatcher pops task envelopes through it and pushes terminal
// success/error messages back.
package queue

import "context"

// Client abstracts the durable list broker.
type Client interface {
	// PopBlocking blocks until a payload is available on the named list or
	// ctx is done. A returned payload has been removed from the broker and
	// must be handed to the caller's pipeline.
	PopBlocking(ctx context.Context, queue string) ([]byte, error)
	// Push appends a payload to the named list.
	Push(ctx context.Context, queue string, payload []byte) error
	Close() error
}
