// Package fn holds the small functional toolkit the engine pipelines are
// composed from: results, stages and retry policies.
package fn

// Result carries either a value or the error that prevented producing it.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Err wraps an error. A nil error still yields a failed Result.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errNilResult
	}
	return Result[T]{err: err}
}

// FromPair adapts a conventional (value, error) return.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
