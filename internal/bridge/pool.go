package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent remote calls when no size is configured.
const DefaultWorkers = 16

// Pool runs blocking remote calls off the caller's goroutine. Dispatch never
// blocks: tasks wait for a slot on their own goroutine.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool returns a pool running at most size tasks at once. size < 1 uses
// DefaultWorkers.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = DefaultWorkers
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger,
	}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return p.size
}

// Go schedules task. A panic inside task is recovered and handed to
// recovered as an error so the caller's result can still be delivered.
func (p *Pool) Go(task func(), recovered func(err error)) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		// Background context: a slot is always eventually granted.
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			recovered(err)
			return
		}
		defer p.sem.Release(1)

		defer func() {
			if v := recover(); v != nil {
				p.logger.Error("worker task panicked",
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())),
				)
				recovered(fmt.Errorf("bridge: task panicked: %v", v))
			}
		}()

		task()
	}()
}

// Wait blocks until every scheduled task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
