package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) *Limiter {
	zl, err := zap.NewDevelopment()
	require.NoError(t, err)

	auditLog := audit.NewLogger(zl, audit.NewMockRepository())
	cfg := &config.RateLimitConfig{MaxAttempts: max, Window: window}
	return NewLimiter(cfg, zl, NewMockRepository(), auditLog)
}

func TestLimiter_Allow(t *testing.T) {
	limiter := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.NoError(t, limiter.Allow("203.0.113.9", "login"))
	}

	// The (N+1)-th action within the window is rejected.
	assert.ErrorIs(t, limiter.Allow("203.0.113.9", "login"), ErrRateLimited)

	// Other identifiers and actions keep their own budget.
	assert.NoError(t, limiter.Allow("203.0.113.10", "login"))
	assert.NoError(t, limiter.Allow("203.0.113.9", "verify_code"))
}

func TestLimiter_WindowElapses(t *testing.T) {
	limiter := newTestLimiter(t, 2, time.Minute)

	current := time.Now()
	limiter.now = func() time.Time { return current }

	require.NoError(t, limiter.Allow("user-1", "approve"))
	require.NoError(t, limiter.Allow("user-1", "approve"))
	assert.ErrorIs(t, limiter.Allow("user-1", "approve"), ErrRateLimited)

	// After the window elapses the counter resets.
	current = current.Add(time.Minute + time.Second)
	assert.NoError(t, limiter.Allow("user-1", "approve"))
}

func TestLimiter_Reset(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)

	require.NoError(t, limiter.Allow("user-2", "login"))
	assert.ErrorIs(t, limiter.Allow("user-2", "login"), ErrRateLimited)

	require.NoError(t, limiter.Reset("user-2", "login"))
	assert.NoError(t, limiter.Allow("user-2", "login"))
}

func TestLimiter_AllowN(t *testing.T) {
	limiter := newTestLimiter(t, 100, time.Hour)

	assert.NoError(t, limiter.AllowN("user-3", "otp", 1, time.Minute))
	assert.ErrorIs(t, limiter.AllowN("user-3", "otp", 1, time.Minute), ErrRateLimited)
}
