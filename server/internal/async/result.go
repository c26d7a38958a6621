package async

import "errors"

// ErrUnloaded is the failure of a chunk request that could not be served
// because the chunk was, or became, not allowed to reach the requested stage.
var ErrUnloaded = errors.New("chunk unloaded")

// Result is the outcome of an asynchronous chunk operation: either a value or
// an error. Results are passed around by value and never panic on failure.
type Result[T any] struct {
	val T
	err error
}

// Success returns a successful Result holding v.
func Success[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Failure returns a failed Result. A nil error is replaced by ErrUnloaded.
func Failure[T any](err error) Result[T] {
	if err == nil {
		err = ErrUnloaded
	}
	return Result[T]{err: err}
}

// Unloaded returns a Result that failed with ErrUnloaded.
func Unloaded[T any]() Result[T] {
	return Result[T]{err: ErrUnloaded}
}

// Success checks if the Result holds a value.
func (r Result[T]) Success() bool {
	return r.err == nil
}

// Value returns the value of the Result and true if it was successful.
func (r Result[T]) Value() (T, bool) {
	return r.val, r.err == nil
}

// Err returns the error of a failed Result, or nil.
func (r Result[T]) Err() error {
	return r.err
}

// MapResult converts the value of a successful Result using f. Failures are
// passed on unchanged.
func MapResult[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return Result[U]{val: f(r.val)}
}
