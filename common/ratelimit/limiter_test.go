package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quietLogger struct{}

func (quietLogger) Info(msg string, keysAndValues ...interface{})  {}
func (quietLogger) Error(msg string, keysAndValues ...interface{}) {}
func (quietLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (quietLogger) Debug(msg string, keysAndValues ...interface{}) {}

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, quietLogger{}), mr
}

func TestUserLimitAllowsUpToLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result, err := limiter.CheckUserLimit(ctx, "alice", 3, 60)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(i), result.CurrentCount)
		assert.Zero(t, result.RetryAfterSeconds)
	}

	result, err := limiter.CheckUserLimit(ctx, "alice", 3, 60)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(4), result.CurrentCount)
	assert.Positive(t, result.RetryAfterSeconds)
}

func TestUserLimitsAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.CheckUserLimit(ctx, "alice", 2, 60)
		require.NoError(t, err)
	}
	blocked, err := limiter.CheckUserLimit(ctx, "alice", 2, 60)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.CheckUserLimit(ctx, "bob", 2, 60)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
	assert.Equal(t, int64(1), other.CurrentCount)
}

func TestWindowResetClearsCounter(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckUserLimit(ctx, "alice", 1, 30)
	require.NoError(t, err)
	blocked, err := limiter.CheckUserLimit(ctx, "alice", 1, 30)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	mr.FastForward(31 * time.Second)

	result, err := limiter.CheckUserLimit(ctx, "alice", 1, 30)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(1), result.CurrentCount)
}

func TestActionLimitsUseSeparateCounters(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	whatIfCfg := GetLimitForAction(ActionWhatIf)
	for i := int64(0); i < whatIfCfg.Limit; i++ {
		result, err := limiter.CheckActionLimit(ctx, "alice", ActionWhatIf)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	blocked, err := limiter.CheckActionLimit(ctx, "alice", ActionWhatIf)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	// Exhausting what-if must not block votes for the same user
	vote, err := limiter.CheckActionLimit(ctx, "alice", ActionVote)
	require.NoError(t, err)
	assert.True(t, vote.Allowed)
}

func TestUnknownActionFallsBackToStrictest(t *testing.T) {
	cfg := GetLimitForAction("teleport")
	assert.Equal(t, DefaultActionConfigs[ActionWhatIf].Limit, cfg.Limit)
}

func TestGlobalLimitSharedAcrossCallers(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckGlobalLimit(ctx, 2)
	require.NoError(t, err)
	_, err = limiter.CheckGlobalLimit(ctx, 2)
	require.NoError(t, err)

	result, err := limiter.CheckGlobalLimit(ctx, 2)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestResetLimitClearsCounter(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckUserLimit(ctx, "alice", 1, 60)
	require.NoError(t, err)

	count, err := limiter.GetCurrentCount(ctx, "rate_limit:user:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, limiter.ResetLimit(ctx, "rate_limit:user:alice"))

	count, err = limiter.GetCurrentCount(ctx, "rate_limit:user:alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLimiterErrorWhenRedisDown(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	mr.Close()

	_, err := limiter.CheckUserLimit(context.Background(), "alice", 5, 60)
	assert.Error(t, err)
}
