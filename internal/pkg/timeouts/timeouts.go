// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package timeouts holds the per-call deadlines used for torrent client and
// tracker requests.
package timeouts

import (
	"context"
	"time"
)

const (
	// DefaultClientTimeout bounds a single torrent client API call.
	DefaultClientTimeout = 30 * time.Second
	// DefaultTrackerTimeout bounds one tracker lookup including its retries.
	DefaultTrackerTimeout = 45 * time.Second
	// MaxTrackerTimeout caps AdaptiveTrackerTimeout.
	MaxTrackerTimeout = 3 * time.Minute
	// RetryAllowance is added per attempt after the first for backoff.
	RetryAllowance = 2 * time.Second
)

// AdaptiveTrackerTimeout returns a deadline large enough for attempts
// requests of perRequest each, capped at MaxTrackerTimeout.
func AdaptiveTrackerTimeout(perRequest time.Duration, attempts int) time.Duration {
	if perRequest <= 0 || attempts <= 1 {
		return max(perRequest, DefaultTrackerTimeout)
	}
	timeout := time.Duration(attempts)*perRequest + time.Duration(attempts-1)*RetryAllowance
	if timeout > MaxTrackerTimeout {
		return MaxTrackerTimeout
	}
	return max(timeout, DefaultTrackerTimeout)
}

// WithClientTimeout applies timeout (DefaultClientTimeout when <= 0) unless
// ctx already carries a deadline.
func WithClientTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, timeout, DefaultClientTimeout)
}

// WithTrackerTimeout applies timeout (DefaultTrackerTimeout when <= 0) unless
// ctx already carries a deadline.
func WithTrackerTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, timeout, DefaultTrackerTimeout)
}

func withTimeout(ctx context.Context, timeout, fallback time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = fallback
	}
	return context.WithTimeout(ctx, timeout)
}
