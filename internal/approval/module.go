package approval

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/credentials"
	"github.com/knoxlock/authcore/internal/crypto"
	"github.com/knoxlock/authcore/internal/ratelimit"
)

// NewModule returns the approval workflow module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(log *zap.Logger) Notifier {
					return NewLogNotifier(log)
				},
			),
			fx.Annotate(
				func(
					config *config.AppConfig,
					log *zap.Logger,
					repo Repository,
					engine *crypto.Engine,
					users credentials.Repository,
					notifier Notifier,
					limiter *ratelimit.Limiter,
					auditLog *audit.Logger,
				) *Service {
					return NewService(&config.Approval, log, repo, engine, users, notifier, limiter, auditLog)
				},
			),
			fx.Annotate(
				func(svc *Service, log *zap.Logger) *Handler {
					return NewHandler(svc, log)
				},
			),
		),
		fx.Invoke(startSweeper),
	)
}

// startSweeper runs the periodic cleanup until the app shuts down.
func startSweeper(lifecycle fx.Lifecycle, svc *Service, log *zap.Logger) {
	done := make(chan struct{})
	stopped := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(stopped)
				ticker := time.NewTicker(svc.SweepInterval())
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := svc.SweepExpired(); err != nil {
							log.Warn("approval sweep failed", zap.Error(err))
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
