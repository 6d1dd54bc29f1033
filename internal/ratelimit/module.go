package ratelimit

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
)

// NewModule returns the rate limiter module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, repo Repository, auditLog *audit.Logger) *Limiter {
					return NewLimiter(&config.RateLimit, log, repo, auditLog)
				},
			),
		),
	)
}
