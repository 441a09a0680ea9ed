package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// Call is a cold, single-result remote operation. Building a Call performs no
// work; each Subscribe runs the whole operation again as an independent
// remote round trip.
type Call[T any] struct {
	drive    *Drive
	op       string
	resource string
	run      func(ctx context.Context) (T, error)
	// release frees a value nobody will receive (the subscriber stopped
	// listening before it arrived). Nil when T holds no resources.
	release func(T)
}

func newCall[T any](d *Drive, op, resource string, run func(ctx context.Context) (T, error)) *Call[T] {
	return &Call[T]{drive: d, op: op, resource: resource, run: run}
}

// Op returns the operation name used in errors, logs and records.
func (c *Call[T]) Op() string {
	return c.op
}

// Subscribe starts the operation and returns its Future. If the session is
// not connected the Future is already resolved with a NotConnected failure.
//
// Canceling ctx resolves the Future with the context error, but the remote
// call already dispatched runs to completion.
func (c *Call[T]) Subscribe(ctx context.Context) *Future[T] {
	d := c.drive
	f := newFuture[T](c.release)
	start := d.now()
	id := uuid.NewString()

	if !d.connected() {
		var zero T
		err := failure.Map(c.op, remote.ErrNotConnected)
		d.record(id, c.op, c.resource, start, err)
		f.resolve(zero, err)

		return f
	}

	if err := ctx.Err(); err != nil {
		var zero T
		f.resolve(zero, failure.Map(c.op, err))

		return f
	}

	stop := context.AfterFunc(ctx, func() {
		var zero T
		if f.resolve(zero, failure.Map(c.op, ctx.Err())) {
			d.logger.Debug("subscriber stopped listening",
				slog.String("op", c.op),
				slog.String("id", id),
			)
		}
	})

	workCtx := context.WithValue(context.WithoutCancel(ctx), settleKey{}, f.onSettle)

	d.pool.Go(func() {
		defer stop()

		v, err := c.run(workCtx)
		err = failure.Map(c.op, err)
		d.record(id, c.op, c.resource, start, err)
		f.resolve(v, err)
	}, func(err error) {
		defer stop()

		var zero T
		err = failure.Map(c.op, err)
		d.record(id, c.op, c.resource, start, err)
		f.resolve(zero, err)
	})

	return f
}

// Await subscribes and waits for the result or for ctx to end.
func (c *Call[T]) Await(ctx context.Context) (T, error) {
	return c.Subscribe(ctx).Result()
}

// Future is the single result of one subscription. It is resolved exactly
// once, with either a value or an error.
type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	val     T
	err     error
	release func(T)
	hooks   []func()
}

func newFuture[T any](release func(T)) *Future[T] {
	return &Future[T]{done: make(chan struct{}), release: release}
}

// resolve settles the future. It returns false (and releases v) when the
// future was already settled.
func (f *Future[T]) resolve(v T, err error) bool {
	f.mu.Lock()

	if f.settled {
		f.mu.Unlock()

		if err == nil && f.release != nil {
			f.release(v)
		}

		return false
	}

	f.settled = true
	f.val = v
	f.err = err
	hooks := f.hooks
	f.hooks = nil
	f.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	close(f.done)

	return true
}

// onSettle runs fn when the future settles, before the result becomes
// visible. If it has already settled fn runs at once.
func (f *Future[T]) onSettle(fn func()) {
	f.mu.Lock()

	if !f.settled {
		f.hooks = append(f.hooks, fn)
		f.mu.Unlock()

		return
	}

	f.mu.Unlock()
	fn()
}

type settleKey struct{}

// whenSettled registers fn to run when the subscription owning ctx settles,
// whichever side (worker or canceled subscriber) settles it.
func whenSettled(ctx context.Context, fn func()) {
	if reg, ok := ctx.Value(settleKey{}).(func(func())); ok {
		reg(fn)
	}
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future is resolved and returns its outcome.
func (f *Future[T]) Result() (T, error) {
	<-f.done

	return f.val, f.err
}

// Wait is Result bounded by ctx. When ctx ends first the context error is
// returned and the future keeps its eventual result.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OperationRecord describes one completed subscription.
type OperationRecord struct {
	ID        string
	Op        string
	Resource  string
	Code      remote.StatusCode // zero on success
	Message   string
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports whether the operation completed without error.
func (r OperationRecord) Succeeded() bool {
	return r.Code == 0
}

// Recorder receives a record for every completed subscription. Record is
// called on the worker and must not block for long.
type Recorder interface {
	RecordOperation(ctx context.Context, rec OperationRecord) error
}
