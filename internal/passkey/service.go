package passkey

import (
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/crypto"
)

var (
	ErrChallengeMismatch   = errors.New("challenge mismatch")
	ErrOriginMismatch      = errors.New("origin mismatch")
	ErrInvalidCeremonyType = errors.New("invalid ceremony type")
	ErrChallengeExpired    = errors.New("challenge expired")
	ErrNoCredentials       = errors.New("no registered credentials")
)

// Service runs the two passkey ceremonies. Each is a two-step
// challenge/response: Begin issues a short-lived random challenge, Complete
// verifies the client-reported challenge, origin and ceremony type before
// touching any credential state. Every mismatch fails closed with a specific
// error.
type Service struct {
	config     *config.PasskeyConfig
	log        *zap.Logger
	repository Repository
	engine     *crypto.Engine
	auditLog   *audit.Logger
	now        func() time.Time
}

func NewService(
	config *config.PasskeyConfig,
	log *zap.Logger,
	repo Repository,
	engine *crypto.Engine,
	auditLog *audit.Logger,
) *Service {
	return &Service{
		config:     config,
		log:        log,
		repository: repo,
		engine:     engine,
		auditLog:   auditLog,
		now:        time.Now,
	}
}

// BeginRegistration issues a registration challenge. Already-registered
// credential ids are returned for exclusion so the same authenticator cannot
// be registered twice.
func (s *Service) BeginRegistration(userID uint) (*RegistrationParams, error) {
	challenge, err := s.issueChallenge(userID, CeremonyCreate)
	if err != nil {
		return nil, err
	}

	existing, err := s.repository.ListCredentials(userID)
	if err != nil {
		return nil, err
	}
	exclude := make([]string, 0, len(existing))
	for _, c := range existing {
		exclude = append(exclude, c.CredentialID)
	}

	return &RegistrationParams{
		Challenge:            challenge,
		RelyingPartyID:       s.config.RelyingPartyID,
		ExcludeCredentialIDs: exclude,
	}, nil
}

// CompleteRegistration verifies the ceremony response and persists the new
// credential with an initial signature counter of zero.
func (s *Service) CompleteRegistration(userID uint, response *CeremonyResponse) error {
	if err := s.verifyCeremony(userID, CeremonyCreate, response); err != nil {
		s.auditLog.Failure(audit.EventPasskeyRegistered, &userID, "", response.DeviceLabel, err.Error())
		return err
	}

	encryptedKey, err := s.engine.Encrypt(response.PublicKey)
	if err != nil {
		return err
	}

	if err := s.repository.CreateCredential(&Credential{
		UserID:       userID,
		CredentialID: response.CredentialID,
		PublicKey:    encryptedKey,
		SignCount:    0,
		DeviceLabel:  response.DeviceLabel,
	}); err != nil {
		return err
	}

	if err := s.repository.ClearChallenge(userID, CeremonyCreate); err != nil {
		return err
	}

	s.auditLog.Success(audit.EventPasskeyRegistered, &userID, "", response.DeviceLabel)
	return nil
}

// BeginAuthentication requires at least one registered credential and issues
// an authentication challenge along with the acceptable credential ids.
func (s *Service) BeginAuthentication(userID uint) (*AuthenticationParams, error) {
	credentials, err := s.repository.ListCredentials(userID)
	if err != nil {
		return nil, err
	}
	if len(credentials) == 0 {
		return nil, ErrNoCredentials
	}

	challenge, err := s.issueChallenge(userID, CeremonyGet)
	if err != nil {
		return nil, err
	}

	allow := make([]string, 0, len(credentials))
	for _, c := range credentials {
		allow = append(allow, c.CredentialID)
	}

	return &AuthenticationParams{
		Challenge:          challenge,
		RelyingPartyID:     s.config.RelyingPartyID,
		AllowCredentialIDs: allow,
	}, nil
}

// CompleteAuthentication verifies the ceremony response and enforces counter
// monotonicity. A non-increasing counter is logged as a possible cloned
// authenticator but not hard-rejected, since some authenticators never
// increment; the stored counter only moves forward.
func (s *Service) CompleteAuthentication(userID uint, response *CeremonyResponse) error {
	if err := s.verifyCeremony(userID, CeremonyGet, response); err != nil {
		s.auditLog.Failure(audit.EventPasskeyAuth, &userID, "", "", err.Error())
		return err
	}

	credential, err := s.repository.GetCredential(response.CredentialID)
	if err != nil {
		s.auditLog.Failure(audit.EventPasskeyAuth, &userID, "", "", "unknown credential")
		return err
	}
	if credential.UserID != userID {
		s.auditLog.Failure(audit.EventPasskeyAuth, &userID, "", "", "credential belongs to another user")
		return ErrCredentialNotFound
	}

	// Decrypt to surface tampering with the stored key material; an
	// undecryptable blob must fail the authentication, not pass silently.
	if _, err := s.engine.Decrypt(credential.PublicKey); err != nil {
		return err
	}

	if response.SignCount > credential.SignCount {
		if err := s.repository.UpdateSignCount(credential.CredentialID, response.SignCount, s.now()); err != nil {
			return err
		}
	} else {
		s.log.Warn("passkey signature counter did not increase",
			zap.Uint("user_id", userID),
			zap.String("credential_id", credential.CredentialID),
			zap.Uint32("stored", credential.SignCount),
			zap.Uint32("reported", response.SignCount))
		s.auditLog.Record(audit.Entry{
			UserID:        &userID,
			EventType:     audit.EventPasskeyCloneWarn,
			Success:       false,
			FailureReason: "non-increasing signature counter",
			Metadata:      credential.CredentialID,
		})
		if err := s.repository.TouchCredential(credential.CredentialID, s.now()); err != nil {
			return err
		}
	}

	if err := s.repository.ClearChallenge(userID, CeremonyGet); err != nil {
		return err
	}

	s.auditLog.Success(audit.EventPasskeyAuth, &userID, "", credential.DeviceLabel)
	return nil
}

// ListCredentials returns the user's registered passkeys.
func (s *Service) ListCredentials(userID uint) ([]Credential, error) {
	return s.repository.ListCredentials(userID)
}

// RemoveCredential deletes a passkey on explicit user action.
func (s *Service) RemoveCredential(userID uint, credentialID string) error {
	if err := s.repository.DeleteCredential(userID, credentialID); err != nil {
		return err
	}
	s.auditLog.Record(audit.Entry{
		UserID:    &userID,
		EventType: audit.EventPasskeyRemoved,
		Success:   true,
		Metadata:  credentialID,
	})
	return nil
}

func (s *Service) issueChallenge(userID uint, ceremony string) (string, error) {
	challenge, err := crypto.GenerateToken(32)
	if err != nil {
		return "", err
	}

	if err := s.repository.SaveChallenge(&Challenge{
		UserID:    userID,
		Challenge: challenge,
		Ceremony:  ceremony,
		ExpiresAt: s.now().Add(s.challengeTTL()),
	}); err != nil {
		return "", err
	}

	return challenge, nil
}

func (s *Service) verifyCeremony(userID uint, ceremony string, response *CeremonyResponse) error {
	stored, err := s.repository.GetChallenge(userID, ceremony)
	if err != nil {
		return err
	}
	if s.now().After(stored.ExpiresAt) {
		return ErrChallengeExpired
	}

	if subtle.ConstantTimeCompare([]byte(stored.Challenge), []byte(response.Challenge)) != 1 {
		return ErrChallengeMismatch
	}

	if response.Origin != s.config.ExpectedOrigin {
		if !(s.config.AllowDevOrigin && response.Origin == s.config.DevOrigin) {
			return ErrOriginMismatch
		}
	}

	if response.CeremonyType != ceremony {
		return ErrInvalidCeremonyType
	}

	return nil
}

func (s *Service) challengeTTL() time.Duration {
	if s.config.ChallengeTTL > 0 {
		return s.config.ChallengeTTL
	}
	return 5 * time.Minute
}
