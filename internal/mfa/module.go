package mfa

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/credentials"
	"github.com/knoxlock/authcore/internal/crypto"
)

// NewModule returns the MFA registry module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(
					config *config.AppConfig,
					log *zap.Logger,
					repo Repository,
					engine *crypto.Engine,
					users credentials.Repository,
					auditLog *audit.Logger,
				) *Service {
					return NewService(&config.MFA, log, repo, engine, users, auditLog)
				},
			),
			fx.Annotate(
				func(svc *Service, log *zap.Logger) *Handler {
					return NewHandler(svc, log)
				},
			),
		),
	)
}
