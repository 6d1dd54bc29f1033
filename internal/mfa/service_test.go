package mfa

import (
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/crypto"
)

type fakeUserFlags struct {
	mu      sync.Mutex
	enabled map[uint]bool
}

func (f *fakeUserFlags) SetMFAEnabled(userID uint, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enabled == nil {
		f.enabled = make(map[uint]bool)
	}
	f.enabled[userID] = enabled
	return nil
}

func newTestEngine(t *testing.T) *crypto.Engine {
	engine, err := crypto.NewEngine(&config.CryptoConfig{
		MasterKey:     "3f9c2a1d5e8b4c7a9d0f1e2b3c4d5e6f3f9c2a1d5e8b4c7a9d0f1e2b3c4d5e6f",
		KDFIterations: 1000,
		ArgonTime:     1,
		ArgonMemory:   8 * 1024,
		ArgonThreads:  1,
	})
	require.NoError(t, err)
	return engine
}

func newTestService(t *testing.T) (*Service, *fakeUserFlags, *audit.MockRepository) {
	zl, err := zap.NewDevelopment()
	require.NoError(t, err)

	flags := &fakeUserFlags{}
	auditRepo := audit.NewMockRepository()
	svc := NewService(
		&config.MFAConfig{
			BackupCodeCount:         10,
			TrustedDeviceDuration:   30 * 24 * time.Hour,
			VerificationCodeTTL:     5 * time.Minute,
			VerificationMaxAttempts: 5,
		},
		zl,
		newMockRepository(),
		newTestEngine(t),
		flags,
		audit.NewLogger(zl, auditRepo),
	)
	return svc, flags, auditRepo
}

func TestService_SetupTOTP(t *testing.T) {
	svc, flags, _ := newTestService(t)

	secret, url, err := svc.GenerateTOTPSecret("user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Contains(t, url, "otpauth://totp/")

	require.NoError(t, svc.SetupTOTP(1, secret))
	assert.True(t, flags.enabled[1])

	// The stored payload is encrypted; the round trip must return the
	// original secret.
	got, err := svc.GetTOTPSecret(1)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestService_GetTOTPSecret_NotConfigured(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetTOTPSecret(99)
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestService_VerifyTOTP(t *testing.T) {
	svc, _, _ := newTestService(t)

	secret, _, err := svc.GenerateTOTPSecret("user@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.SetupTOTP(1, secret))

	current := time.Now()
	svc.now = func() time.Time { return current }

	code, err := totp.GenerateCodeCustom(secret, current, totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	valid, err := svc.VerifyTOTP(1, code)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = svc.VerifyTOTP(1, "000000")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestService_VerifyTOTP_AcceptsOneStepDrift(t *testing.T) {
	svc, _, _ := newTestService(t)

	secret, _, err := svc.GenerateTOTPSecret("user@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.SetupTOTP(1, secret))

	current := time.Now()
	svc.now = func() time.Time { return current }

	// A code from the previous time step still validates; one from three
	// steps ago does not.
	stale, err := totp.GenerateCodeCustom(secret, current.Add(-30*time.Second), totp.ValidateOpts{
		Period: 30, Skew: 0, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	valid, err := svc.VerifyTOTP(1, stale)
	require.NoError(t, err)
	assert.True(t, valid)

	ancient, err := totp.GenerateCodeCustom(secret, current.Add(-90*time.Second), totp.ValidateOpts{
		Period: 30, Skew: 0, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	valid, err = svc.VerifyTOTP(1, ancient)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestService_BackupCodes_SingleUse(t *testing.T) {
	svc, _, _ := newTestService(t)

	codes, err := svc.GenerateBackupCodes(1, 0)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	// Each code verifies exactly once.
	valid, err := svc.VerifyBackupCode(1, codes[0])
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = svc.VerifyBackupCode(1, codes[0])
	require.NoError(t, err)
	assert.False(t, valid)

	// Other codes in the batch are unaffected.
	valid, err = svc.VerifyBackupCode(1, codes[1])
	require.NoError(t, err)
	assert.True(t, valid)

	// A code that never existed returns false, indistinguishably.
	valid, err = svc.VerifyBackupCode(1, "AAAA-BBBB-CCCC")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestService_BackupCodes_RegenerateInvalidatesPrior(t *testing.T) {
	svc, _, _ := newTestService(t)

	old, err := svc.GenerateBackupCodes(1, 5)
	require.NoError(t, err)

	fresh, err := svc.GenerateBackupCodes(1, 5)
	require.NoError(t, err)

	// Every code from the old batch is dead, including never-used ones.
	for _, code := range old {
		valid, err := svc.VerifyBackupCode(1, code)
		require.NoError(t, err)
		assert.False(t, valid)
	}

	valid, err := svc.VerifyBackupCode(1, fresh[0])
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestService_BackupCodes_ScopedToUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	codes, err := svc.GenerateBackupCodes(1, 5)
	require.NoError(t, err)

	valid, err := svc.VerifyBackupCode(2, codes[0])
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestService_TrustedDevices(t *testing.T) {
	svc, _, _ := newTestService(t)

	current := time.Now()
	svc.now = func() time.Time { return current }

	require.NoError(t, svc.AddTrustedDevice(1, "fp-alpha", "laptop"))

	trusted, err := svc.IsTrustedDevice(1, "fp-alpha")
	require.NoError(t, err)
	assert.True(t, trusted)

	trusted, err = svc.IsTrustedDevice(1, "fp-unknown")
	require.NoError(t, err)
	assert.False(t, trusted)

	// Past the validity window the row is inert.
	current = current.Add(31 * 24 * time.Hour)
	trusted, err = svc.IsTrustedDevice(1, "fp-alpha")
	require.NoError(t, err)
	assert.False(t, trusted)

	// Re-trusting refreshes the window.
	require.NoError(t, svc.AddTrustedDevice(1, "fp-alpha", "laptop"))
	trusted, err = svc.IsTrustedDevice(1, "fp-alpha")
	require.NoError(t, err)
	assert.True(t, trusted)
}

func TestService_VerificationCodes(t *testing.T) {
	svc, _, _ := newTestService(t)

	uid := uint(1)
	code, err := svc.CreateVerificationCode(&uid, "", CodeTypeEmail)
	require.NoError(t, err)
	require.Len(t, code, 6)

	// Wrong guesses burn attempts but keep the code alive.
	ok, err := svc.CheckVerificationCode(&uid, "", CodeTypeEmail, "999999")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CheckVerificationCode(&uid, "", CodeTypeEmail, code)
	require.NoError(t, err)
	assert.True(t, ok)

	// Consumed on first valid check.
	_, err = svc.CheckVerificationCode(&uid, "", CodeTypeEmail, code)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestService_VerificationCodes_NewCodeInvalidatesPrior(t *testing.T) {
	svc, _, _ := newTestService(t)

	first, err := svc.CreateVerificationCode(nil, "discord:55", CodeTypeEmail)
	require.NoError(t, err)
	second, err := svc.CreateVerificationCode(nil, "discord:55", CodeTypeEmail)
	require.NoError(t, err)

	_, err = svc.CheckVerificationCode(nil, "discord:55", CodeTypeEmail, first)
	if first != second {
		assert.ErrorIs(t, err, ErrCodeExpired)
	}

	ok, err := svc.CheckVerificationCode(nil, "discord:55", CodeTypeEmail, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_VerificationCodes_InvalidationStampFollowsClock(t *testing.T) {
	zl, err := zap.NewDevelopment()
	require.NoError(t, err)

	repo := newMockRepository()
	svc := NewService(
		&config.MFAConfig{
			VerificationCodeTTL:     5 * time.Minute,
			VerificationMaxAttempts: 5,
		},
		zl,
		repo,
		newTestEngine(t),
		&fakeUserFlags{},
		audit.NewLogger(zl, audit.NewMockRepository()),
	)
	frozen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	uid := uint(9)
	_, err = svc.CreateVerificationCode(&uid, "", CodeTypeEmail)
	require.NoError(t, err)
	_, err = svc.CreateVerificationCode(&uid, "", CodeTypeEmail)
	require.NoError(t, err)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.vcodes, 2)
	require.NotNil(t, repo.vcodes[0].UsedAt)
	assert.True(t, repo.vcodes[0].UsedAt.Equal(frozen))
	assert.Nil(t, repo.vcodes[1].UsedAt)
}

func TestService_VerificationCodes_AttemptBudget(t *testing.T) {
	svc, _, _ := newTestService(t)

	uid := uint(2)
	code, err := svc.CreateVerificationCode(&uid, "", CodeTypeDeviceSetup)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ok, err := svc.CheckVerificationCode(&uid, "", CodeTypeDeviceSetup, "000000")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// Budget exhausted: even the right code is refused now.
	_, err = svc.CheckVerificationCode(&uid, "", CodeTypeDeviceSetup, code)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestService_DeactivateMethod(t *testing.T) {
	svc, _, auditRepo := newTestService(t)

	secret, _, err := svc.GenerateTOTPSecret("user@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.SetupTOTP(1, secret))

	require.NoError(t, svc.DeactivateMethod(1, MethodTOTP))

	// Deactivated, not deleted: the row is still listed, but unusable.
	methods, err := svc.ListMethods(1)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.False(t, methods[0].IsActive)

	_, err = svc.GetTOTPSecret(1)
	assert.ErrorIs(t, err, ErrMethodNotFound)

	var found bool
	for _, e := range auditRepo.Entries() {
		if e.EventType == audit.EventMethodDeactivated {
			found = true
		}
	}
	assert.True(t, found)
}
