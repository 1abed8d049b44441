// CLAUDE:SUMMARY Transport-agnostic endpoint plumbing: Endpoint, Middleware, Chain, structured-logging and panic-recovery middlewares shared by the MCP and HTTP surfaces.
// Package kit holds the small request plumbing shared by docstream's
// surfaces. An Endpoint is a transport-independent handler; transports
// decode their wire request into the value the endpoint expects.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call of op with its transport, request ID, duration
// and outcome. Failures are logged at Warn, successes at Debug.
func Logging(logger *slog.Logger, op string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"op", op,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				logger.WarnContext(ctx, "kit: call failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "kit: call", attrs...)
			}
			return resp, err
		}
	}
}

// Recover turns a panic inside the endpoint into an error for the caller.
func Recover(op string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = nil, fmt.Errorf("%s: panic: %v", op, r)
				}
			}()
			return next(ctx, req)
		}
	}
}
