package resilience_test

import (
	"context"
	"errors"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/stackguard/resilience"
)

var _ = Describe("CircuitBreaker FailureClassifier Integration", func() {
	var (
		op     *mockBreakerOperation
		ctx    context.Context
		logger *slog.Logger
	)

	BeforeEach(func() {
		op = &mockBreakerOperation{
			executeFunc: func(ctx context.Context, req string) (string, error) {
				return "success", nil
			},
		}
		ctx = context.Background()
		logger = slog.Default()
	})

	Describe("HTTPStatusClassifier", func() {
		var (
			cb        *resilience.CircuitBreaker
			protected resilience.Operation[string, string]
		)

		BeforeEach(func() {
			cb = resilience.NewCircuitBreaker(
				resilience.WithFailureThreshold(3),
				resilience.WithFailureClassifier(resilience.NewHTTPStatusClassifier()),
				resilience.WithBreakerLogger(logger),
			)
			DeferCleanup(cb.Stop)
			protected = resilience.Protect(cb, op)
		})

		Context("Rate Limit Errors (429)", func() {
			It("should not trip circuit on rate limit errors", func() {
				op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
					return "", resilience.NewStatusCodeError(429, errors.New("rate limited"))
				})
				for i := 0; i < 5; i++ {
					_, _ = protected.Execute(ctx, "test")
				}

				Expect(cb.State()).To(Equal(resilience.StateClosed))
			})
		})

		Context("Timeout Errors", func() {
			It("should not trip circuit on context deadline exceeded", func() {
				op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
					return "", context.DeadlineExceeded
				})
				for i := 0; i < 5; i++ {
					_, _ = protected.Execute(ctx, "test")
				}

				Expect(cb.State()).To(Equal(resilience.StateClosed))
			})

			It("should not trip circuit on context canceled", func() {
				op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
					return "", context.Canceled
				})
				for i := 0; i < 5; i++ {
					_, _ = protected.Execute(ctx, "test")
				}

				Expect(cb.State()).To(Equal(resilience.StateClosed))
			})
		})

		Context("Authentication Errors (401, 403)", func() {
			DescribeTable("trips the circuit",
				func(statusCode int, errorMsg string) {
					op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
						return "", resilience.NewStatusCodeError(statusCode, errors.New(errorMsg))
					})
					_, _ = protected.Execute(ctx, "test")
					_, _ = protected.Execute(ctx, "test")
					_, _ = protected.Execute(ctx, "test")

					Expect(cb.State()).To(Equal(resilience.StateOpen))
				},
				Entry("401 unauthorized", 401, "unauthorized"),
				Entry("403 forbidden", 403, "forbidden"),
			)
		})

		Context("Server Errors (5xx)", func() {
			DescribeTable("trips the circuit",
				func(statusCode int, errorMsg string) {
					op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
						return "", resilience.NewStatusCodeError(statusCode, errors.New(errorMsg))
					})
					_, _ = protected.Execute(ctx, "test")
					_, _ = protected.Execute(ctx, "test")
					_, _ = protected.Execute(ctx, "test")

					Expect(cb.State()).To(Equal(resilience.StateOpen))
				},
				Entry("500 internal server error", 500, "internal server error"),
				Entry("502 bad gateway", 502, "bad gateway"),
				Entry("503 service unavailable", 503, "service unavailable"),
				Entry("504 gateway timeout", 504, "gateway timeout"),
			)
		})

		Context("Client Errors (4xx)", func() {
			DescribeTable("does not trip the circuit",
				func(statusCode int, errorMsg string) {
					op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
						return "", resilience.NewStatusCodeError(statusCode, errors.New(errorMsg))
					})
					for i := 0; i < 5; i++ {
						_, _ = protected.Execute(ctx, "test")
					}

					Expect(cb.State()).To(Equal(resilience.StateClosed))
				},
				Entry("400 bad request", 400, "bad request"),
				Entry("404 not found", 404, "not found"),
			)
		})

		Context("Unknown Errors", func() {
			It("should trip circuit on errors without a status code", func() {
				op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
					return "", errors.New("unknown error")
				})
				_, _ = protected.Execute(ctx, "test")
				_, _ = protected.Execute(ctx, "test")
				_, _ = protected.Execute(ctx, "test")

				Expect(cb.State()).To(Equal(resilience.StateOpen))
			})
		})
	})

	Describe("Default classifier", func() {
		It("counts every failure kind, including rate limits", func() {
			cb := resilience.NewCircuitBreaker(
				resilience.WithFailureThreshold(3),
				resilience.WithBreakerLogger(logger),
			)
			DeferCleanup(cb.Stop)
			protected := resilience.Protect(cb, op)

			op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
				return "", resilience.NewStatusCodeError(429, errors.New("rate limited"))
			})
			_, _ = protected.Execute(ctx, "test")
			_, _ = protected.Execute(ctx, "test")
			_, _ = protected.Execute(ctx, "test")

			Expect(cb.State()).To(Equal(resilience.StateOpen))
		})
	})

	Describe("Custom FailureClassifier", func() {
		It("should use custom classifier to decide what counts", func() {
			customClassifier := &messageFailureClassifier{
				failureMessage: "critical error",
			}

			cb := resilience.NewCircuitBreaker(
				resilience.WithFailureThreshold(3),
				resilience.WithFailureClassifier(customClassifier),
				resilience.WithBreakerLogger(logger),
			)
			DeferCleanup(cb.Stop)
			protected := resilience.Protect(cb, op)

			// Benign errors never open the circuit
			op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
				return "", errors.New("benign error")
			})
			for i := 0; i < 5; i++ {
				_, _ = protected.Execute(ctx, "test")
			}
			Expect(cb.State()).To(Equal(resilience.StateClosed))

			// Critical errors do
			op.setExecuteFunc(func(ctx context.Context, req string) (string, error) {
				return "", errors.New("critical error")
			})
			_, _ = protected.Execute(ctx, "test")
			_, _ = protected.Execute(ctx, "test")
			_, _ = protected.Execute(ctx, "test")
			Expect(cb.State()).To(Equal(resilience.StateOpen))
		})
	})
})

// messageFailureClassifier is a test classifier that counts specific error messages.
type messageFailureClassifier struct {
	failureMessage string
}

func (c *messageFailureClassifier) IsFailure(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == c.failureMessage
}
