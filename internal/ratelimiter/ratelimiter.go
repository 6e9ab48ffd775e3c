// Package ratelimiter throttles the command rate of a single client connection.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// unlimited is the rate used when a limit of zero is configured.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket over x/time/rate.
//
// The gateway creates one per accepted connection and calls Wait before
// dispatching each command, so a misbehaving client slows itself down
// without affecting other connections.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing commandsPerSecond with the given burst.
// A rate of zero disables limiting.
func New(commandsPerSecond, burst uint) *RateLimiter {
	if commandsPerSecond == 0 {
		commandsPerSecond = unlimited
		burst = commandsPerSecond
	}
	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(commandsPerSecond), int(burst)),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
