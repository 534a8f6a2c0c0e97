// Package resource bounds the background work the library schedules:
// training jobs and artifact uploads share a worker budget, and upload
// throughput can be capped.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxBackgroundWorkers is the maximum number of concurrent background
	// jobs (training runs, uploads). If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec is the maximum throughput for artifact uploads.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages shared background-work budgets. A nil Controller is
// valid and enforces nothing.
type Controller struct {
	cfg Config

	bgSem   *semaphore.Weighted
	bgBusy  atomic.Int64
	ioLimit *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimit = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireBackground reserves a background worker slot, blocking until one
// is free or ctx is canceled.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.bgSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.bgBusy.Add(1)
	return nil
}

// TryAcquireBackground reserves a slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	if !c.bgSem.TryAcquire(1) {
		return false
	}
	c.bgBusy.Add(1)
	return true
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
	c.bgBusy.Add(-1)
}

// BackgroundBusy returns the number of slots currently held.
func (c *Controller) BackgroundBusy() int64 {
	if c == nil {
		return 0
	}
	return c.bgBusy.Load()
}

// AcquireIO waits until the upload limit allows the specified number of
// bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimit == nil {
		return nil
	}
	return c.ioLimit.WaitN(ctx, bytes)
}
