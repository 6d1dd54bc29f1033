package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/knoxlock/authcore/internal/approval"
	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/credentials"
	"github.com/knoxlock/authcore/internal/crypto"
	"github.com/knoxlock/authcore/internal/database"
	"github.com/knoxlock/authcore/internal/mfa"
	"github.com/knoxlock/authcore/internal/migration"
	"github.com/knoxlock/authcore/internal/passkey"
	"github.com/knoxlock/authcore/internal/ratelimit"
	"github.com/knoxlock/authcore/internal/server"
	"github.com/knoxlock/authcore/internal/session"
)

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(server.LoadConfig),

		// Database and migrations
		database.Module(),
		migration.Module(),
		fx.Provide(func(manager *database.Manager) *gorm.DB {
			return manager.DB()
		}),

		// Domain modules
		crypto.NewModule(),
		audit.NewModule(),
		ratelimit.NewModule(),
		credentials.NewModule(),
		mfa.NewModule(),
		passkey.NewModule(),
		approval.NewModule(),
		session.NewModule(),

		// Server
		fx.Provide(server.NewServer),

		// Start the server
		fx.Invoke(registerHooks),
	)
}

func newLogger() (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return server.NewLogger(env)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	srv *server.Server,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("failed to start server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
