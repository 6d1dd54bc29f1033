package session

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/knoxlock/authcore/internal/approval"
	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/credentials"
	"github.com/knoxlock/authcore/internal/crypto"
)

const purgeInterval = time.Hour

// NewModule returns the session manager module options
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
					auditLog *audit.Logger,
				) *Service {
					return NewService(&config.Auth, log, repo, engine, auditLog)
				},
			),
			fx.Annotate(
				func(svc *Service, creds *credentials.Service, approvals *approval.Service, log *zap.Logger) *Handler {
					return NewHandler(svc, creds, approvals, log)
				},
			),
		),
		fx.Invoke(startPurger),
	)
}

// startPurger deletes expired sessions on a slow cadence.
func startPurger(lifecycle fx.Lifecycle, svc *Service, log *zap.Logger) {
	done := make(chan struct{})
	stopped := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(stopped)
				ticker := time.NewTicker(purgeInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := svc.PurgeExpired(); err != nil {
							log.Warn("session purge failed", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			select {
			case <-stopped:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
