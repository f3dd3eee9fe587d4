// Package task runs an operation body either on the calling goroutine or on
// its own goroutine, selected per call, so that both execution modes share one
// implementation.
package task

import "context"

// Options selects how an operation executes.
type Options struct {
	// Sync runs the operation to completion on the calling goroutine.
	// When false the operation runs on a new goroutine and the caller
	// collects the result from the returned Future.
	Sync bool
}

var (
	// Sync runs operations on the calling goroutine.
	Sync = Options{Sync: true}

	// Async runs operations on their own goroutine.
	Async = Options{}
)

// Future is the pending or completed result of an operation.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Run executes fn according to opts.
//
// In synchronous mode fn has completed when Run returns and the Future is
// already resolved. In asynchronous mode fn runs on a goroutine that exits as
// soon as fn returns; nothing outlives the operation.
func Run[T any](ctx context.Context, opts Options, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	if opts.Sync {
		f.resolve(fn(ctx))
		return f
	}
	go func() {
		f.resolve(fn(ctx))
	}()
	return f
}

// Resolved returns a Future that has already completed with v and err.
func Resolved[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.resolve(v, err)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the operation completes and returns its result.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await waits for the result or for ctx to end, whichever comes first.
// Giving up on the wait does not cancel the operation; it keeps the context
// it was started with.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
