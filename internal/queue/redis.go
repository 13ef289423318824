// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// popTimeout is the server-side BLPOP timeout. Short enough that ctx
// cancellation is observed promptly, long enough to avoid busy polling.
const popTimeout = time.Second

// Redis implements Client on a go-redis connection. Broker outages are
// absorbed with capped exponential backoff; a popped payload is always
// returned to the caller before any further broker interaction, so no
// envelope is lost to a reconnect.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis parses a redis:// URL and pings the broker once.
func NewRedis(ctx context.Context, url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, logger: logger}, nil
}

// PopBlocking implements Client. It loops over short server-side BLPOP
// waits so shutdown is observed within about a second.
func (r *Redis) PopBlocking(ctx context.Context, queue string) ([]byte, error) {
	bo := newBrokerBackoff()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := r.client.BLPop(ctx, popTimeout, queue).Result()
		switch {
		case err == nil:
			bo.Reset()
			// BLPOP returns [key, value].
			if len(res) != 2 {
				return nil, fmt.Errorf("unexpected blpop reply of length %d", len(res))
			}
			return []byte(res[1]), nil
		case errors.Is(err, redis.Nil):
			bo.Reset()
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			wait := bo.NextBackOff()
			r.logger.Warn("broker pop failed, retrying",
				slog.String("queue", queue),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// Push implements Client with the same reconnect policy as PopBlocking.
func (r *Redis) Push(ctx context.Context, queue string, payload []byte) error {
	bo := newBrokerBackoff()
	for {
		err := r.client.RPush(ctx, queue, payload).Err()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		wait := bo.NextBackOff()
		r.logger.Warn("broker push failed, retrying",
			slog.String("queue", queue),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *Redis) Close() error { return r.client.Close() }

func newBrokerBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // retry until cancelled
	return bo
}
