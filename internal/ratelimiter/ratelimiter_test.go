package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		commandsPerSecond uint
		burst             uint
	}{
		{"standard rate", 100, 200},
		{"low rate", 1, 2},
		{"zero burst", 5, 0},
		{"unlimited", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.commandsPerSecond, tt.burst)
			require.NotNil(t, limiter)
			require.NotNil(t, limiter.limiter)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, limiter.Wait(ctx), "first command must pass")
		})
	}
}

func TestWaitEnforcesBurst(t *testing.T) {
	limiter := New(10, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Wait(ctx), "command %d is within burst", i)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "burst must not block")

	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "eleventh command waits for a refill")
}

func TestWaitHonoursContext(t *testing.T) {
	limiter := New(1, 1)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	limiter := New(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 10_000; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
}
