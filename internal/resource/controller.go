package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the vector memory limit.
var ErrMemoryLimitExceeded = errors.New("resource: vector memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited, except
// MaxBackgroundJobs which defaults to 1.
type Config struct {
	MemoryLimitBytes  int64
	MaxBackgroundJobs int64
	IOBytesPerSec     int64
}

// Controller tracks and limits resource usage.
type Controller struct {
	cfg Config

	mem     *semaphore.Weighted
	memUsed atomic.Int64

	jobs *semaphore.Weighted

	io *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundJobs <= 0 {
		cfg.MaxBackgroundJobs = 1
	}

	c := &Controller{
		cfg:  cfg,
		jobs: semaphore.NewWeighted(cfg.MaxBackgroundJobs),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.mem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOBytesPerSec), int(cfg.IOBytesPerSec))
	}
	return c
}

// Config returns the limits the controller was created with.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// ReserveMemory accounts n bytes of vector memory.
func (c *Controller) ReserveMemory(n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if c.mem != nil && !c.mem.TryAcquire(n) {
		return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrMemoryLimitExceeded, n, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}
	c.memUsed.Add(n)
	return nil
}

// ReleaseMemory returns n bytes reserved with ReserveMemory.
func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.mem != nil {
		c.mem.Release(n)
	}
	c.memUsed.Add(-n)
}

// MemoryUsage returns the reserved vector memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireJob blocks until a background job slot is free.
func (c *Controller) AcquireJob(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.jobs.Acquire(ctx, 1)
}

// TryAcquireJob takes a background job slot if one is free.
func (c *Controller) TryAcquireJob() bool {
	if c == nil {
		return true
	}
	return c.jobs.TryAcquire(1)
}

// ReleaseJob frees a slot taken with AcquireJob or TryAcquireJob.
func (c *Controller) ReleaseJob() {
	if c == nil {
		return
	}
	c.jobs.Release(1)
}

// WaitIO blocks until n bytes of background IO are allowed.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil || n <= 0 {
		return nil
	}
	burst := c.io.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := c.io.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
