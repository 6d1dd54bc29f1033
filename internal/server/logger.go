package server

import "go.uber.org/zap"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// NewLogger builds the application logger for the given environment.
func NewLogger(env string) (*zap.Logger, error) {
	if env == EnvProduction {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
