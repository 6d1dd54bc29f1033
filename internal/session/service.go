package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/credentials"
	"github.com/knoxlock/authcore/internal/crypto"
)

var (
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrRefreshMismatch = errors.New("refresh token mismatch")
	ErrTokenInvalid    = errors.New("access token invalid")
)

const (
	defaultAccessTokenDuration = 15 * time.Minute
	defaultSessionDuration     = 12 * time.Hour

	sessionTokenBytes = 32
	refreshTokenBytes = 32
)

// Claims carried by the short-lived access token.
type Claims struct {
	ExternalID string `json:"external_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates login sessions. The long-lived session token
// is opaque and stored hashed; the short-lived access token is a JWT signed
// with a key derived from the master secret, so no separate JWT secret has
// to be provisioned.
type Service struct {
	config     *config.AuthConfig
	log        *zap.Logger
	repository Repository
	engine     *crypto.Engine
	auditLog   *audit.Logger
	signingKey []byte
	now        func() time.Time
}

func NewService(
	config *config.AuthConfig,
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
		signingKey: engine.DeriveSubKey("jwt-signing"),
		now:        time.Now,
	}
}

// Issue opens a session for an already-authenticated user and returns the
// session, refresh and access tokens. The plaintext tokens exist only in the
// return value.
func (s *Service) Issue(user *credentials.User, fingerprint string) (*Issued, error) {
	token, err := crypto.GenerateToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}
	refresh, err := crypto.GenerateToken(refreshTokenBytes)
	if err != nil {
		return nil, err
	}
	encryptedRefresh, err := s.engine.EncryptString(refresh)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &Session{
		UserID:         user.ID,
		TokenHash:      s.engine.HashCode(token),
		RefreshToken:   encryptedRefresh,
		Fingerprint:    fingerprint,
		ExpiresAt:      now.Add(s.sessionDuration()),
		LastActivityAt: now,
	}
	if err := s.repository.Create(session); err != nil {
		return nil, err
	}

	accessToken, err := s.signAccessToken(user, now)
	if err != nil {
		return nil, err
	}

	s.auditLog.Success(audit.EventSessionIssued, &user.ID, "", fingerprint)
	return &Issued{
		SessionToken: token,
		RefreshToken: refresh,
		AccessToken:  accessToken,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// Validate resolves a session token, rejecting expired and revoked sessions,
// and bumps the activity stamp.
func (s *Service) Validate(token string) (*Session, error) {
	session, err := s.repository.GetByTokenHash(s.engine.HashCode(token))
	if err != nil {
		return nil, err
	}

	now := s.now()
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	if err := s.repository.TouchActivity(session.TokenHash, now); err != nil {
		s.log.Warn("failed to bump session activity", zap.Error(err))
	}
	session.LastActivityAt = now
	return session, nil
}

// Refresh mints a fresh access token for a live session. The caller must
// present the refresh token issued alongside the session; it is compared
// against the decrypted stored copy.
func (s *Service) Refresh(user *credentials.User, token, refreshToken string) (string, error) {
	session, err := s.Validate(token)
	if err != nil {
		return "", err
	}
	if session.UserID != user.ID {
		return "", ErrRefreshMismatch
	}

	stored, err := s.engine.DecryptString(session.RefreshToken)
	if err != nil {
		return "", err
	}
	if !s.engine.VerifyCodeHash(refreshToken, s.engine.HashCode(stored)) {
		return "", ErrRefreshMismatch
	}

	return s.signAccessToken(user, s.now())
}

// Revoke ends a single session.
func (s *Service) Revoke(token string) error {
	hash := s.engine.HashCode(token)
	session, err := s.repository.GetByTokenHash(hash)
	if err != nil {
		return err
	}
	if err := s.repository.Revoke(hash, s.now()); err != nil {
		return err
	}

	s.auditLog.Success(audit.EventSessionRevoked, &session.UserID, "", session.Fingerprint)
	return nil
}

// RevokeAll ends every live session of a user, e.g. after a password change
// or a suspected compromise.
func (s *Service) RevokeAll(userID uint) (int64, error) {
	count, err := s.repository.RevokeAllForUser(userID, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.auditLog.Success(audit.EventSessionRevoked, &userID, "", "all sessions")
	}
	return count, nil
}

// PurgeExpired deletes sessions past their expiry. Validation already
// rejects them; this just keeps the table from growing without bound.
func (s *Service) PurgeExpired() error {
	deleted, err := s.repository.DeleteExpiredBefore(s.now())
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Debug("purged expired sessions", zap.Int64("deleted", deleted))
	}
	return nil
}

// ValidateAccessToken parses and verifies a JWT access token.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *Service) signAccessToken(user *credentials.User, now time.Time) (string, error) {
	claims := &Claims{
		ExternalID: user.ExternalID,
		Role:       user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenDuration())),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

func (s *Service) accessTokenDuration() time.Duration {
	if s.config != nil && s.config.AccessTokenDuration > 0 {
		return s.config.AccessTokenDuration
	}
	return defaultAccessTokenDuration
}

func (s *Service) sessionDuration() time.Duration {
	if s.config != nil && s.config.SessionDuration > 0 {
		return s.config.SessionDuration
	}
	return defaultSessionDuration
}
