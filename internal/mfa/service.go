package mfa

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/crypto"
)

var (
	ErrTooManyAttempts = errors.New("too many verification attempts")
	ErrCodeExpired     = errors.New("verification code expired or not found")
)

const totpIssuer = "authcore"

// UserFlags is the slice of the user store the registry needs: flipping the
// aggregate mfa_enabled bit when a method is set up or removed.
type UserFlags interface {
	SetMFAEnabled(userID uint, enabled bool) error
}

// Service manages TOTP secrets, backup codes, trusted devices and
// verification codes. Everything secret is encrypted or hashed before it
// reaches the repository.
type Service struct {
	config     *config.MFAConfig
	log        *zap.Logger
	repository Repository
	engine     *crypto.Engine
	users      UserFlags
	auditLog   *audit.Logger
	now        func() time.Time
}

func NewService(
	config *config.MFAConfig,
	log *zap.Logger,
	repo Repository,
	engine *crypto.Engine,
	users UserFlags,
	auditLog *audit.Logger,
) *Service {
	return &Service{
		config:     config,
		log:        log,
		repository: repo,
		engine:     engine,
		users:      users,
		auditLog:   auditLog,
		now:        time.Now,
	}
}

// GenerateTOTPSecret provisions a fresh TOTP key for the account. The caller
// shows the provisioning URL to the user and calls SetupTOTP with the secret
// once the user confirms a first code.
func (s *Service) GenerateTOTPSecret(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: accountName,
		Digits:      s.totpDigits(),
		Period:      s.totpPeriod(),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// SetupTOTP encrypts and stores the TOTP payload and flips the user's
// mfa_enabled flag.
func (s *Service) SetupTOTP(userID uint, secret string) error {
	payload := TOTPPayload{
		Secret:    secret,
		Algorithm: "SHA1",
		Digits:    int(s.totpDigits()),
		Period:    s.totpPeriod(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal totp payload: %w", err)
	}
	encrypted, err := s.engine.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt totp payload: %w", err)
	}

	if err := s.repository.UpsertMethod(&Method{
		UserID:     userID,
		MethodType: MethodTOTP,
		Payload:    encrypted,
		IsActive:   true,
	}); err != nil {
		return err
	}

	if err := s.users.SetMFAEnabled(userID, true); err != nil {
		return err
	}

	s.auditLog.Success(audit.EventTOTPSetup, &userID, "", "")
	return nil
}

// GetTOTPSecret decrypts and returns the stored secret. A decryption failure
// propagates: an empty secret would silently disable the check.
func (s *Service) GetTOTPSecret(userID uint) (string, error) {
	payload, err := s.totpPayload(userID)
	if err != nil {
		return "", err
	}
	return payload.Secret, nil
}

// VerifyTOTP validates a code against the user's decrypted secret, accepting
// one time-step of clock drift in either direction.
func (s *Service) VerifyTOTP(userID uint, code string) (bool, error) {
	payload, err := s.totpPayload(userID)
	if err != nil {
		return false, err
	}

	valid, err := totp.ValidateCustom(code, payload.Secret, s.now().UTC(), totp.ValidateOpts{
		Period:    payload.Period,
		Skew:      1,
		Digits:    otp.Digits(payload.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate totp: %w", err)
	}

	if valid {
		s.auditLog.Success(audit.EventTOTPVerify, &userID, "", "")
	} else {
		s.auditLog.Failure(audit.EventTOTPVerify, &userID, "", "", "code mismatch")
	}
	return valid, nil
}

// GenerateBackupCodes issues a fresh batch and returns the plaintext codes
// exactly once. All previously issued codes are invalidated, used or not.
func (s *Service) GenerateBackupCodes(userID uint, count int) ([]string, error) {
	if count <= 0 {
		count = s.backupCodeCount()
	}

	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := crypto.GenerateBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, s.engine.HashCode(code))
	}

	if err := s.repository.ReplaceBackupCodes(userID, hashes); err != nil {
		return nil, err
	}

	s.auditLog.Success(audit.EventBackupCodesIssued, &userID, "", "")
	return codes, nil
}

// VerifyBackupCode consumes a matching unused code. It returns false for a
// wrong, used or never-issued code without distinguishing which.
func (s *Service) VerifyBackupCode(userID uint, code string) (bool, error) {
	consumed, err := s.repository.ConsumeBackupCode(userID, s.engine.HashCode(code), s.now())
	if err != nil {
		return false, err
	}

	if consumed {
		s.auditLog.Success(audit.EventBackupCodeUsed, &userID, "", "")
	} else {
		s.auditLog.Failure(audit.EventBackupCodeUsed, &userID, "", "", "no matching unused code")
	}
	return consumed, nil
}

// AddTrustedDevice upserts the (user, fingerprint) pair with a fresh
// validity window.
func (s *Service) AddTrustedDevice(userID uint, fingerprint, label string) error {
	if fingerprint == "" {
		return errors.New("fingerprint is required")
	}

	device := &TrustedDevice{
		UserID:      userID,
		Fingerprint: fingerprint,
		Label:       label,
		ExpiresAt:   s.now().Add(s.trustedDeviceDuration()),
	}
	if err := s.repository.UpsertTrustedDevice(device); err != nil {
		return err
	}

	s.auditLog.Success(audit.EventDeviceTrusted, &userID, "", fingerprint)
	return nil
}

// IsTrustedDevice reports whether an unexpired trust row exists, refreshing
// last_used as a side effect. Expiry is never extended here.
func (s *Service) IsTrustedDevice(userID uint, fingerprint string) (bool, error) {
	device, err := s.repository.TouchTrustedDevice(userID, fingerprint, s.now())
	if err != nil {
		return false, err
	}
	return device != nil, nil
}

// ListMethods returns every method row for the user, active or not.
func (s *Service) ListMethods(userID uint) ([]Method, error) {
	return s.repository.ListMethods(userID)
}

// DeactivateMethod disables a method without deleting it.
func (s *Service) DeactivateMethod(userID uint, methodType string) error {
	if err := s.repository.DeactivateMethod(userID, methodType); err != nil {
		return err
	}
	s.auditLog.Record(audit.Entry{
		UserID:    &userID,
		EventType: audit.EventMethodDeactivated,
		Success:   true,
		Metadata:  methodType,
	})
	return nil
}

// CreateVerificationCode issues a short-lived numeric code for the subject,
// invalidating any prior unconsumed code of the same type. Returns the
// plaintext exactly once.
func (s *Service) CreateVerificationCode(userID *uint, externalID, codeType string) (string, error) {
	code, err := crypto.GenerateOTP(6)
	if err != nil {
		return "", err
	}

	if err := s.repository.CreateVerificationCode(&VerificationCode{
		UserID:     userID,
		ExternalID: externalID,
		CodeHash:   s.engine.HashCode(code),
		CodeType:   codeType,
		ExpiresAt:  s.now().Add(s.verificationCodeTTL()),
	}, s.now()); err != nil {
		return "", err
	}

	return code, nil
}

// CheckVerificationCode verifies and consumes the active code for the
// subject. Mismatches increment the attempt counter; once the budget is
// exhausted the code is burned.
func (s *Service) CheckVerificationCode(userID *uint, externalID, codeType, code string) (bool, error) {
	stored, err := s.repository.FindActiveVerificationCode(userID, externalID, codeType, s.now())
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			s.auditLog.Failure(audit.EventVerificationCode, userID, "", "", "expired or missing")
			return false, ErrCodeExpired
		}
		return false, err
	}

	if stored.Attempts >= s.verificationMaxAttempts() {
		s.auditLog.Failure(audit.EventVerificationCode, userID, "", "", "attempt budget exhausted")
		return false, ErrTooManyAttempts
	}

	if !s.engine.VerifyCodeHash(code, stored.CodeHash) {
		if err := s.repository.IncrementVerificationAttempts(stored.ID); err != nil {
			return false, err
		}
		s.auditLog.Failure(audit.EventVerificationCode, userID, "", "", "code mismatch")
		return false, nil
	}

	if err := s.repository.MarkVerificationCodeUsed(stored.ID, s.now()); err != nil {
		return false, err
	}
	s.auditLog.Success(audit.EventVerificationCode, userID, "", "")
	return true, nil
}

func (s *Service) totpDigits() otp.Digits {
	if s.config.TOTPDigits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

func (s *Service) totpPeriod() uint {
	if s.config.TOTPPeriod > 0 {
		return s.config.TOTPPeriod
	}
	return 30
}

func (s *Service) backupCodeCount() int {
	if s.config.BackupCodeCount > 0 {
		return s.config.BackupCodeCount
	}
	return 10
}

func (s *Service) trustedDeviceDuration() time.Duration {
	if s.config.TrustedDeviceDuration > 0 {
		return s.config.TrustedDeviceDuration
	}
	return 30 * 24 * time.Hour
}

func (s *Service) verificationCodeTTL() time.Duration {
	if s.config.VerificationCodeTTL > 0 {
		return s.config.VerificationCodeTTL
	}
	return 5 * time.Minute
}

func (s *Service) verificationMaxAttempts() int {
	if s.config.VerificationMaxAttempts > 0 {
		return s.config.VerificationMaxAttempts
	}
	return 5
}

func (s *Service) totpPayload(userID uint) (*TOTPPayload, error) {
	method, err := s.repository.GetMethod(userID, MethodTOTP)
	if err != nil {
		return nil, err
	}

	raw, err := s.engine.Decrypt(method.Payload)
	if err != nil {
		return nil, err
	}

	var payload TOTPPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal totp payload: %w", err)
	}
	if payload.Period == 0 {
		payload.Period = 30
	}
	if payload.Digits == 0 {
		payload.Digits = 6
	}
	return &payload, nil
}
