package transport

import (
	"context"
	"errors"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/pkg/circuitbreaker"
)

// Breaker guards a Transport with a circuit breaker. While the circuit is
// open every call fails fast with a service-unavailable error, which the
// cache reports like any other fetch or mutation failure.
type Breaker struct {
	next Transport
	cb   *circuitbreaker.CircuitBreaker
}

// NewBreaker wraps next. A nil cb uses circuitbreaker.BackendBreaker.
func NewBreaker(next Transport, cb *circuitbreaker.CircuitBreaker) *Breaker {
	if cb == nil {
		cb = circuitbreaker.BackendBreaker(nil, IsBackendFailure)
	}
	return &Breaker{next: next, cb: cb}
}

// Do implements Transport.
func (b *Breaker) Do(ctx context.Context, req Request) Response {
	resp, err := circuitbreaker.Call(ctx, b.cb, func(ctx context.Context) (Response, error) {
		resp := b.next.Do(ctx, req)
		return resp, resp.Error
	})
	if circuitbreaker.IsRejection(err) {
		return Response{Error: shared.WrapError("transport", string(req.Method), shared.ErrServiceUnavailable, "backend circuit open", err)}
	}
	if err != nil {
		return Response{Error: err}
	}
	return resp
}

// Circuit returns the underlying breaker.
func (b *Breaker) Circuit() *circuitbreaker.CircuitBreaker { return b.cb }

// IsBackendFailure reports whether err says the backend is unhealthy.
// Answers the backend gave on purpose (not found, duplicate, validation)
// and cancelled calls do not count.
func IsBackendFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		shared.IsNotFound(err),
		shared.IsAlreadyExists(err),
		shared.IsValidation(err),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrForbidden),
		errors.Is(err, shared.ErrUnauthorized):
		return false
	}
	return true
}
