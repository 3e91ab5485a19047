// Package background is the in-process implementation of collaborator
// (e): a handle letting a request register work that must outlive the
// response. It runs submitted work over a bounded pool of goroutines so a
// burst of populate tasks cannot spawn unbounded concurrency, and detaches
// each task's context from request cancellation so a client disconnect
// never aborts an in-flight cache populate.
package background

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool is a bounded worker pool implementing outbound.BackgroundTasks.
type Pool struct {
	sem    chan struct{}
	logger *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Pool accepting up to maxConcurrent tasks running at
// once; further submissions block the submitter until a slot frees.
func New(maxConcurrent int, logger *zap.Logger) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pool{sem: make(chan struct{}, maxConcurrent), logger: logger}
}

// Go schedules fn on a detached context, independent of any request's
// lifetime. It recovers panics so one failing task cannot take down the
// process.
func (p *Pool) Go(fn func(ctx context.Context)) {
	p.sem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("background task panicked", zap.Any("recover", r))
			}
		}()
		fn(context.Background())
	}()
}

// Wait blocks until every task submitted so far has completed. Only tests
// call it; neither the request path nor cmd/gateway's shutdown does.
func (p *Pool) Wait() {
	p.wg.Wait()
}
