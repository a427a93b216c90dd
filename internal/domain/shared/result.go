package shared

// Result is the outcome of a mutation: either a value or an error, never both.
// Callers must handle both branches through Match or by checking IsOk.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Err wraps a failure. A nil error is treated as an unknown mutation failure.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = ErrMutation
	}
	return Result[T]{err: err}
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool { return r.ok }

// Value returns the value and whether it is present.
func (r Result[T]) Value() (T, bool) { return r.value, r.ok }

// Error returns the failure, or nil for a successful result.
func (r Result[T]) Error() error { return r.err }

// Unwrap returns the pair in the usual Go shape.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// Match calls exactly one of the branches.
func (r Result[T]) Match(onOk func(T), onErr func(error)) {
	if r.ok {
		onOk(r.value)
		return
	}
	onErr(r.err)
}

// MapResult converts the value of a successful result.
func MapResult[T, U any](r Result[T], fn func(T) (U, error)) Result[U] {
	if !r.ok {
		return Err[U](r.err)
	}
	u, err := fn(r.value)
	if err != nil {
		return Err[U](err)
	}
	return Ok(u)
}
