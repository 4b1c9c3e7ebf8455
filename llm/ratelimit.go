package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware returns middleware that throttles outgoing requests
// to rps requests per second with the given burst. Waiting respects the
// request context; cancellation surfaces as an AbortError.
func RateLimitMiddleware(rps float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &AbortError{GatewayError: GatewayError{
				Message: "request cancelled while rate limited",
				Cause:   err,
			}}
		}
		return next(ctx, req)
	}
}
