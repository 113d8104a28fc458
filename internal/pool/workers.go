package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pool: closed")

// Workers runs submitted jobs on a fixed set of goroutines.
type Workers struct {
	work     chan func()
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	submitMu sync.RWMutex
	pending  atomic.Int64
}

// NewWorkers starts n workers. n <= 0 uses GOMAXPROCS.
func NewWorkers(n int) *Workers {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	w := &Workers{
		work: make(chan func(), n*2),
		stop: make(chan struct{}),
	}
	w.wg.Add(n)
	for range n {
		go w.run()
	}
	return w
}

func (w *Workers) run() {
	defer w.wg.Done()
	for job := range w.work {
		job()
		w.pending.Add(-1)
	}
}

// Submit enqueues job, blocking while the queue is full.
func (w *Workers) Submit(ctx context.Context, job func()) error {
	w.submitMu.RLock()
	defer w.submitMu.RUnlock()

	if w.closed.Load() {
		return ErrClosed
	}

	w.pending.Add(1)
	select {
	case w.work <- job:
		return nil
	case <-w.stop:
		w.pending.Add(-1)
		return ErrClosed
	case <-ctx.Done():
		w.pending.Add(-1)
		return ctx.Err()
	}
}

// Pending returns the number of queued or running jobs.
func (w *Workers) Pending() int64 { return w.pending.Load() }

// Close stops accepting jobs, runs the queued ones and waits for the workers.
func (w *Workers) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}

	// Unblock waiting submitters before taking the write lock.
	close(w.stop)
	w.submitMu.Lock()
	close(w.work)
	w.submitMu.Unlock()

	w.wg.Wait()
}
