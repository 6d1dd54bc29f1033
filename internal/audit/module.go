package audit

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewModule returns the audit module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(log *zap.Logger, repo Repository) *Logger {
					return NewLogger(log, repo)
				},
			),
			fx.Annotate(
				func(logger *Logger, log *zap.Logger) *Handler {
					return NewHandler(logger, log)
				},
			),
		),
	)
}
