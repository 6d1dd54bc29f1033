package credentials

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
)

// NewModule returns the credentials module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			// Provide repository
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			// Provide service
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, repo Repository, auditLog *audit.Logger) *Service {
					return NewService(&config.Auth, log, repo, auditLog)
				},
			),
			// Provide handler
			fx.Annotate(
				func(svc *Service, log *zap.Logger) *Handler {
					return NewHandler(svc, log)
				},
			),
		),
	)
}
