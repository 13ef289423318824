// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-redis-url", testLogger())
	require.Error(t, err)
	require.ErrorContains(t, err, "parse redis url")
}

func TestNewRedisPingFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Port 1 is never a broker.
	_, err := NewRedis(ctx, "redis://127.0.0.1:1/0", testLogger())
	require.Error(t, err)
	require.ErrorContains(t, err, "ping redis")
}
