package question

import "context"

// Future is a value produced once by a background goroutine.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve must be called exactly once.
func (f *Future[T]) Resolve(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Await blocks until the value is ready or ctx ends. A cancelled ctx wins
// even if the value is already there.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
