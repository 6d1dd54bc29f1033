package crypto

import (
	"go.uber.org/fx"

	"github.com/knoxlock/authcore/internal/config"
)

// NewModule returns the crypto module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig) (*Engine, error) {
					return NewEngine(&config.Crypto)
				},
			),
		),
	)
}
