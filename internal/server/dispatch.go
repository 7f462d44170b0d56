package server

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Dispatcher runs session pipelines. Dispatch may block to apply admission
// control; the accept loop waits for it before accepting the next connection.
// When ctx is done before fn could be started, Dispatch returns ctx's error
// and fn never runs.
type Dispatcher interface {
	Dispatch(ctx context.Context, fn func()) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, fn func()) error

func (f DispatcherFunc) Dispatch(ctx context.Context, fn func()) error {
	return f(ctx, fn)
}

// Unbounded starts one goroutine per session with no upper bound.
func Unbounded() Dispatcher {
	return DispatcherFunc(func(_ context.Context, fn func()) error {
		go fn()
		return nil
	})
}

type boundedDispatcher struct {
	sem *semaphore.Weighted
}

// Bounded runs at most n sessions at once. Further connections stay in the
// kernel backlog until a running session finishes.
func Bounded(n int64) Dispatcher {
	if n <= 0 {
		return Unbounded()
	}
	return &boundedDispatcher{sem: semaphore.NewWeighted(n)}
}

func (d *boundedDispatcher) Dispatch(ctx context.Context, fn func()) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer d.sem.Release(1)
		fn()
	}()
	return nil
}

type pacedDispatcher struct {
	next    Dispatcher
	limiter *rate.Limiter
}

// Paced limits how fast sessions are started, then hands them to next.
// A non-positive rate disables pacing.
func Paced(next Dispatcher, perSecond float64, burst int) Dispatcher {
	if next == nil {
		next = Unbounded()
	}
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &pacedDispatcher{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (d *pacedDispatcher) Dispatch(ctx context.Context, fn func()) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.next.Dispatch(ctx, fn)
}
