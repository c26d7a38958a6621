package async

import (
	"context"
	"sync/atomic"
)

// Executor runs functions, possibly on another goroutine.
type Executor interface {
	Execute(f func())
}

// ExecutorFunc is an Executor implemented by a function.
type ExecutorFunc func(f func())

// Execute calls e with f.
func (e ExecutorFunc) Execute(f func()) {
	e(f)
}

// Inline is an Executor that runs functions on the calling goroutine.
var Inline Executor = ExecutorFunc(func(f func()) { f() })

const (
	pending uint32 = iota
	completing
	done
)

type callback[T any] struct {
	f    func(T)
	next *callback[T]
}

// Future is a value that becomes available at some point. A Future is completed
// at most once and never blocks the completing goroutine other than for the
// callbacks registered on it. The zero value is not usable: use NewFuture.
type Future[T any] struct {
	state atomic.Uint32
	val   T
	ch    chan struct{}

	// callbacks is a stack of functions waiting for the value. It is swapped
	// for sealed when the future completes.
	callbacks atomic.Pointer[callback[T]]
	sealed    callback[T]
}

// NewFuture returns a new pending Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan struct{})}
}

// Completed returns a Future that is already completed with v.
func Completed[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v)
	return f
}

// Complete completes the future with v. It returns false if the future was
// already completed, in which case v is discarded.
func (f *Future[T]) Complete(v T) bool {
	if !f.state.CompareAndSwap(pending, completing) {
		return false
	}
	f.val = v
	f.state.Store(done)
	close(f.ch)

	head := f.callbacks.Swap(&f.sealed)
	var ordered []func(T)
	for c := head; c != nil; c = c.next {
		ordered = append(ordered, c.f)
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i](v)
	}
	return true
}

// Now returns the value of the future and true if it is completed.
func (f *Future[T]) Now() (T, bool) {
	if f.state.Load() != done {
		var zero T
		return zero, false
	}
	return f.val, true
}

// IsDone checks if the future is completed.
func (f *Future[T]) IsDone() bool {
	return f.state.Load() == done
}

// Done returns a channel that is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.ch
}

// Wait blocks until the future is completed or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.ch:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete calls fn with the value of the future once it is completed. If
// the future is already completed, fn is called immediately on the calling
// goroutine. Otherwise, fn runs on the goroutine that completes the future.
func (f *Future[T]) OnComplete(fn func(T)) {
	c := &callback[T]{f: fn}
	for {
		head := f.callbacks.Load()
		if head == &f.sealed {
			<-f.ch
			fn(f.val)
			return
		}
		c.next = head
		if f.callbacks.CompareAndSwap(head, c) {
			return
		}
	}
}

// Then returns a future completed with the result of fn applied to the value of
// f. fn runs on exec.
func Then[T, U any](f *Future[T], exec Executor, fn func(T) U) *Future[U] {
	out := NewFuture[U]()
	f.OnComplete(func(v T) {
		exec.Execute(func() {
			out.Complete(fn(v))
		})
	})
	return out
}

// All returns a future that completes with the values of all futures passed,
// in the same order, once every one of them has completed.
func All[T any](fs []*Future[T]) *Future[[]T] {
	out := NewFuture[[]T]()
	if len(fs) == 0 {
		out.Complete(nil)
		return out
	}
	vals := make([]T, len(fs))
	var remaining atomic.Int64
	remaining.Store(int64(len(fs)))
	for i, f := range fs {
		f.OnComplete(func(v T) {
			vals[i] = v
			if remaining.Add(-1) == 0 {
				out.Complete(vals)
			}
		})
	}
	return out
}
