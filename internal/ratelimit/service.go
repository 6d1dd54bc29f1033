package ratelimit

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
)

var ErrRateLimited = errors.New("rate limited")

// Limiter enforces sliding-window rate limits keyed by (identifier, action).
// Callers check it before verifying any credential, so limiting is distinct
// from authentication failure.
type Limiter struct {
	config     *config.RateLimitConfig
	log        *zap.Logger
	repository Repository
	auditLog   *audit.Logger
	now        func() time.Time
}

func NewLimiter(config *config.RateLimitConfig, log *zap.Logger, repo Repository, auditLog *audit.Logger) *Limiter {
	return &Limiter{
		config:     config,
		log:        log,
		repository: repo,
		auditLog:   auditLog,
		now:        time.Now,
	}
}

// Allow records one occurrence of action for identifier and returns
// ErrRateLimited when the configured maximum within the window is exceeded.
func (l *Limiter) Allow(identifier, action string) error {
	return l.AllowN(identifier, action, l.maxAttempts(), l.window())
}

// AllowN is Allow with explicit limits, for actions with their own budget.
func (l *Limiter) AllowN(identifier, action string, max int, window time.Duration) error {
	count, err := l.repository.Increment(identifier, action, window, l.now())
	if err != nil {
		return err
	}

	if count > max {
		l.log.Warn("rate limit exceeded",
			zap.String("identifier", identifier),
			zap.String("action", action),
			zap.Int("count", count))
		l.auditLog.Record(audit.Entry{
			EventType:     audit.EventRateLimited,
			Success:       false,
			FailureReason: action,
			Metadata:      identifier,
		})
		return ErrRateLimited
	}

	return nil
}

// Reset clears the window for (identifier, action), e.g. after a successful
// authentication.
func (l *Limiter) Reset(identifier, action string) error {
	return l.repository.Reset(identifier, action)
}

func (l *Limiter) maxAttempts() int {
	if l.config.MaxAttempts > 0 {
		return l.config.MaxAttempts
	}
	return 10
}

func (l *Limiter) window() time.Duration {
	if l.config.Window > 0 {
		return l.config.Window
	}
	return time.Minute
}
