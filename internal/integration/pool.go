// Package integration holds the collaborator adapters that wrap each
// external system of record, and helpers they share.
package integration

import "context"

// WorkerPool limits concurrent subprocess execution within an adapter poll.
type WorkerPool struct {
	sem chan struct{}
}

// NewWorkerPool creates a new worker pool with the given size.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 4
	}
	return &WorkerPool{
		sem: make(chan struct{}, size),
	}
}

// Release returns a worker slot to the pool.
func (p *WorkerPool) Release() {
	<-p.sem
}

// RunContext executes fn with pool semaphore held, respecting context cancellation.
// Returns ctx.Err() if context is cancelled while waiting to acquire.
func (p *WorkerPool) RunContext(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
		defer p.Release()
		fn()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
