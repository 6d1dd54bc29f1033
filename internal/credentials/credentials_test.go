package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)
	return logger
}

func newTestConfig() *config.AuthConfig {
	return &config.AuthConfig{
		MaxFailedLogins: 5,
		LockoutDuration: 15 * time.Minute,
	}
}

func newTestService(t *testing.T) (*Service, *audit.MockRepository) {
	auditRepo := audit.NewMockRepository()
	svc := NewService(
		newTestConfig(),
		newTestLogger(t),
		NewMockRepository(),
		audit.NewLogger(newTestLogger(t), auditRepo),
	)
	return svc, auditRepo
}

func mustCreateUser(t *testing.T, svc *Service, externalID string) *User {
	user, err := svc.CreateUser(externalID, "Test User")
	require.NoError(t, err)
	return user
}
