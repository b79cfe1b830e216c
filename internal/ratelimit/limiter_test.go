package ratelimit_test

import (
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/passport-ledger/internal/config"
	"github.com/feral-file/passport-ledger/internal/mocks"
	"github.com/feral-file/passport-ledger/internal/ratelimit"
)

type testLimiter struct {
	limiter *ratelimit.Limiter
	now     time.Time
}

func setupTestLimiter(t *testing.T, policy config.RateLimitPolicy, idleTTL time.Duration) *testLimiter {
	ctrl := gomock.NewController(t)
	clock := mocks.NewMockClock(ctrl)

	tl := &testLimiter{now: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)}
	clock.EXPECT().Now().DoAndReturn(func() time.Time { return tl.now }).AnyTimes()

	limiter, err := ratelimit.NewLimiter(policy, idleTTL, clock)
	require.NoError(t, err)
	tl.limiter = limiter
	return tl
}

func TestLimiter_Allow(t *testing.T) {
	tl := setupTestLimiter(t, config.RateLimitPolicy{RequestsPerSecond: 1, Burst: 2}, 0)

	allowed, _ := tl.limiter.Allow("ip:10.0.0.1")
	assert.True(t, allowed)
	allowed, _ = tl.limiter.Allow("ip:10.0.0.1")
	assert.True(t, allowed)

	allowed, retryAfter := tl.limiter.Allow("ip:10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, time.Second, retryAfter)

	tl.now = tl.now.Add(500 * time.Millisecond)
	allowed, retryAfter = tl.limiter.Allow("ip:10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, 500*time.Millisecond, retryAfter)

	tl.now = tl.now.Add(500 * time.Millisecond)
	allowed, _ = tl.limiter.Allow("ip:10.0.0.1")
	assert.True(t, allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	tl := setupTestLimiter(t, config.RateLimitPolicy{RequestsPerSecond: 1, Burst: 1}, 0)

	allowed, _ := tl.limiter.Allow("caller:alice")
	assert.True(t, allowed)
	allowed, _ = tl.limiter.Allow("caller:alice")
	assert.False(t, allowed)

	allowed, _ = tl.limiter.Allow("caller:bob")
	assert.True(t, allowed)
	assert.Equal(t, 2, tl.limiter.Len())
}

func TestLimiter_EvictsIdleKeys(t *testing.T) {
	tl := setupTestLimiter(t, config.RateLimitPolicy{RequestsPerSecond: 1, Burst: 1}, time.Minute)

	tl.limiter.Allow("a")
	tl.now = tl.now.Add(30 * time.Second)
	tl.limiter.Allow("b")
	assert.Equal(t, 2, tl.limiter.Len())

	tl.now = tl.now.Add(40 * time.Second)
	tl.limiter.Allow("c")
	assert.Equal(t, 2, tl.limiter.Len(), "a is dropped, b and c remain")

	// A dropped key starts again with a full bucket
	allowed, _ := tl.limiter.Allow("a")
	assert.True(t, allowed)
}

func TestNewLimiter_InvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy config.RateLimitPolicy
	}{
		{name: "zero rate", policy: config.RateLimitPolicy{RequestsPerSecond: 0, Burst: 1}},
		{name: "negative rate", policy: config.RateLimitPolicy{RequestsPerSecond: -1, Burst: 1}},
		{name: "zero burst", policy: config.RateLimitPolicy{RequestsPerSecond: 1, Burst: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := ratelimit.NewLimiter(tt.policy, 0, nil)
			assert.Error(t, err)
			assert.Nil(t, limiter)
		})
	}
}
