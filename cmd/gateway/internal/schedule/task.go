// Package schedule runs repeating background work behind an explicit cancel handle.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrPanic = errors.New("task panicked")

// Task is the handle of a running loop. All runs of one Task happen on a single goroutine.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}

	mu  sync.Mutex
	err error
}

type options struct {
	onError func(error)
}

type Option func(*options)

// WithErrorHandler is called with every error (or recovered panic) returned by a run.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

func newTask(ctx context.Context) (*Task, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Task{
		cancel: cancel,
		done:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}, ctx
}

// Stop cancels the loop and waits for an in-flight run to finish. It must not be called from inside a run.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Err reports the error that ended a Repeat loop. It is nil for loops ended by Stop or context cancellation.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Kick requests one out-of-cycle run. Kicks that arrive while one is pending are coalesced.
func (t *Task) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Every runs fn every period and on each Kick. Errors are reported and the loop keeps going.
func Every(ctx context.Context, period time.Duration, fn func(context.Context) error, opts ...Option) *Task {
	o := buildOptions(opts)
	t, ctx := newTask(ctx)

	go func() {
		defer close(t.done)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-t.kick:
			}
			if ctx.Err() != nil {
				return
			}
			o.run(ctx, fn)
		}
	}()

	return t
}

// Repeat runs fn at once, then again after each delay returned by next.
// The first error ends the loop; it is kept in Err.
func Repeat(ctx context.Context, next func() time.Duration, fn func(context.Context) error, opts ...Option) *Task {
	o := buildOptions(opts)
	t, ctx := newTask(ctx)

	go func() {
		defer close(t.done)

		for {
			if err := o.run(ctx, fn); err != nil {
				if ctx.Err() == nil {
					t.setErr(err)
				}
				return
			}

			timer := time.NewTimer(next())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			case <-t.kick:
				timer.Stop()
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return t
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) run(ctx context.Context, fn func(context.Context) error) error {
	err := safeCall(ctx, fn)
	if err != nil && o.onError != nil {
		o.onError(err)
	}
	return err
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}
