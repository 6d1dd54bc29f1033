package credentials

import (
	"time"

	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
)

// Service owns the user lifecycle: password-less external-identity linking,
// login attempt accounting and the lockout policy. Lockout here is advisory:
// callers must run CheckLocked before verifying any credential.
type Service struct {
	config     *config.AuthConfig
	log        *zap.Logger
	repository Repository
	auditLog   *audit.Logger
	now        func() time.Time
}

func NewService(config *config.AuthConfig, log *zap.Logger, repo Repository, auditLog *audit.Logger) *Service {
	return &Service{
		config:     config,
		log:        log,
		repository: repo,
		auditLog:   auditLog,
		now:        time.Now,
	}
}

// CreateUser links an external identity to a new local user. The account
// starts as pending; it is never created twice for the same identity.
func (s *Service) CreateUser(externalID, displayName string) (*User, error) {
	if _, err := s.repository.GetUserByExternalID(externalID); err == nil {
		return nil, ErrUserExists
	}

	user := &User{
		ExternalID:  externalID,
		DisplayName: displayName,
		Status:      StatusPending,
		Role:        "member",
	}
	if err := s.repository.CreateUser(user); err != nil {
		return nil, err
	}

	s.auditLog.Record(audit.Entry{
		UserID:    &user.ID,
		EventType: audit.EventUserCreated,
		Success:   true,
		Metadata:  externalID,
	})

	return user, nil
}

func (s *Service) GetUserByID(id uint) (*User, error) {
	return s.repository.GetUserByID(id)
}

func (s *Service) GetUserByExternalID(externalID string) (*User, error) {
	return s.repository.GetUserByExternalID(externalID)
}

// CheckLocked rejects with ErrAccountLocked while a lockout is in force,
// independent of whether the presented credential would verify.
func (s *Service) CheckLocked(userID uint) error {
	user, err := s.repository.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.Locked(s.now()) {
		return ErrAccountLocked
	}
	return nil
}

// RecordLoginAttempt logs the attempt regardless of outcome. Failures
// increment the counter and lock the account at the configured threshold;
// success resets the counter and stamps last_login. A nil userID records an
// attempt against an identity with no matching user.
func (s *Service) RecordLoginAttempt(success bool, userID *uint, externalID string, reqCtx RequestContext) error {
	if userID == nil {
		s.auditLog.Record(audit.Entry{
			EventType:     audit.EventLoginAttempt,
			Success:       success,
			IPAddress:     reqCtx.IPAddress,
			DeviceInfo:    reqCtx.DeviceInfo,
			FailureReason: "no matching user",
			Metadata:      externalID,
		})
		return nil
	}

	if success {
		if err := s.repository.RecordSuccess(*userID, s.now()); err != nil {
			return err
		}
		s.auditLog.Success(audit.EventLoginAttempt, userID, reqCtx.IPAddress, reqCtx.DeviceInfo)
		return nil
	}

	user, err := s.repository.RecordFailure(*userID, s.maxFailedLogins(), s.lockoutDuration(), s.now())
	if err != nil {
		return err
	}

	s.auditLog.Failure(audit.EventLoginAttempt, userID, reqCtx.IPAddress, reqCtx.DeviceInfo, "verification failed")

	if user.LockedUntil != nil && user.FailedLoginCount == s.maxFailedLogins() {
		s.log.Warn("account locked after repeated failures",
			zap.Uint("user_id", *userID),
			zap.Int("failures", user.FailedLoginCount))
		s.auditLog.Record(audit.Entry{
			UserID:     userID,
			EventType:  audit.EventAccountLocked,
			Success:    false,
			IPAddress:  reqCtx.IPAddress,
			DeviceInfo: reqCtx.DeviceInfo,
		})
	}

	return nil
}

// ActivateUser moves a pending or suspended account to active.
func (s *Service) ActivateUser(userID uint) error {
	return s.transition(userID, StatusActive, map[Status]bool{
		StatusPending:   true,
		StatusSuspended: true,
	})
}

// SuspendUser moves an active account to suspended. Reversible.
func (s *Service) SuspendUser(userID uint) error {
	return s.transition(userID, StatusSuspended, map[Status]bool{
		StatusActive: true,
	})
}

// BanUser is terminal; any non-banned account can be banned.
func (s *Service) BanUser(userID uint) error {
	return s.transition(userID, StatusBanned, map[Status]bool{
		StatusPending:   true,
		StatusActive:    true,
		StatusSuspended: true,
	})
}

func (s *Service) SetRole(userID uint, role string) error {
	if _, err := s.repository.GetUserByID(userID); err != nil {
		return err
	}
	return s.repository.UpdateRole(userID, role)
}

func (s *Service) transition(userID uint, to Status, allowedFrom map[Status]bool) error {
	user, err := s.repository.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !allowedFrom[user.Status] {
		return ErrBadTransition
	}
	if err := s.repository.UpdateStatus(userID, to); err != nil {
		return err
	}

	s.auditLog.Record(audit.Entry{
		UserID:    &userID,
		EventType: audit.EventUserStatusChanged,
		Success:   true,
		Metadata:  string(user.Status) + " -> " + string(to),
	})
	return nil
}

func (s *Service) maxFailedLogins() int {
	if s.config.MaxFailedLogins > 0 {
		return s.config.MaxFailedLogins
	}
	return 5
}

func (s *Service) lockoutDuration() time.Duration {
	if s.config.LockoutDuration > 0 {
		return s.config.LockoutDuration
	}
	return 15 * time.Minute
}
