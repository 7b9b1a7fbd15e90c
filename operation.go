// Package resilience provides composable retry and circuit breaker decorators
// for arbitrary fallible operations. An operation is anything that takes a
// request and returns a response or an error; both decorators accept an
// Operation and return a new Operation of the same shape, so they can be
// layered in either order.
package resilience

import (
	"context"
	"fmt"
)

// Operation defines a generic fallible operation that the decorators wrap.
// Type parameters Req and Resp can be any types, making this suitable for
// HTTP calls, gRPC calls, database queries, or any other call that needs
// resilience behavior.
//
// Example:
//
//	type HTTPClient struct {
//	    client *http.Client
//	}
//
//	func (c *HTTPClient) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
//	    return c.client.Do(req.WithContext(ctx))
//	}
//
//	// Wrap with retry
//	resilient := resilience.NewRetry[*http.Request, *http.Response](
//	    httpClient,
//	    resilience.WithMaxAttempts(3),
//	)
type Operation[Req, Resp any] interface {
	// Execute performs the operation and returns a response or error.
	// The context should be used to control timeouts and cancellation;
	// the decorators pass it through untouched.
	Execute(ctx context.Context, req Req) (Resp, error)
}

// OperationFunc adapts a plain function to the Operation interface.
type OperationFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Execute implements Operation by calling f.
func (f OperationFunc[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// PanicError is returned when a wrapped operation panics. The decorators
// recover panics at their boundary and surface them as ordinary errors so
// that classification and state accounting always operate on error values.
type PanicError struct {
	// Value is the value the operation panicked with.
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// invoke runs op.Execute, converting a panic into a *PanicError.
func invoke[Req, Resp any](ctx context.Context, op Operation[Req, Resp], req Req) (resp Resp, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero Resp
			resp = zero
			err = &PanicError{Value: r}
		}
	}()
	return op.Execute(ctx, req)
}
