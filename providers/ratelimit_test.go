package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiterAppliesSafetyMargin(t *testing.T) {
	limiter := NewRateLimiter("free", 0.9)
	assert.Equal(t, 45, limiter.Stats().MaxCalls) // floor(50 * 0.9)

	limiter = NewRateLimiter("premium", 0.5)
	assert.Equal(t, 500, limiter.Stats().MaxCalls)
}

func TestNewRateLimiterUnknownTierFallsBackToFree(t *testing.T) {
	limiter := NewRateLimiter("platinum", 0.9)
	assert.Equal(t, 45, limiter.Stats().MaxCalls)
}

func TestNewRateLimiterInvalidMargin(t *testing.T) {
	limiter := NewRateLimiter("free", -1)
	assert.Equal(t, 45, limiter.Stats().MaxCalls)

	limiter = NewRateLimiter("free", 2.0)
	assert.Equal(t, 45, limiter.Stats().MaxCalls)
}

func TestAcquireWithinBudgetDoesNotBlock(t *testing.T) {
	limiter := NewRateLimiter("free", 0.9)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 45; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 45, limiter.Stats().CurrentCalls)
}

func TestAcquireBlocksWhenBudgetExhausted(t *testing.T) {
	limiter := NewRateLimiter("free", 0.02) // floor(50*0.02)=1 call per minute
	require.Equal(t, 1, limiter.Stats().MaxCalls)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, limiter.Acquire(ctx))
	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), limiter.Stats().TotalWaits)
}

func TestAcquireRespectsCancellation(t *testing.T) {
	limiter := NewRateLimiter("free", 0.02)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, limiter.Acquire(ctx))
	cancel()
	assert.ErrorIs(t, limiter.Acquire(ctx), context.Canceled)
}
