package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/credentials"
	"github.com/knoxlock/authcore/internal/crypto"
	"github.com/knoxlock/authcore/internal/ratelimit"
)

var (
	// ErrCodeInvalid covers a wrong code, an already-consumed code and a
	// request that is not approved. Callers get one error for all three so
	// responses leak nothing about which it was.
	ErrCodeInvalid = errors.New("approval code invalid")
)

const (
	defaultRequestTTL    = 15 * time.Second
	defaultCodeDigits    = 6
	defaultRetention     = 24 * time.Hour
	defaultSweepInterval = time.Minute
)

// UserDirectory resolves external identities to stored users. Requests for
// unknown identities are still created so that probing the endpoint reveals
// nothing about which identities exist.
type UserDirectory interface {
	GetUserByExternalID(externalID string) (*credentials.User, error)
}

// Service runs the out-of-band approval state machine: a pending request is
// resolved by exactly one of approve, deny or expiry, and an approval yields
// a single-use numeric code whose plaintext exists only in the approve
// response.
type Service struct {
	config     *config.ApprovalConfig
	log        *zap.Logger
	repository Repository
	engine     *crypto.Engine
	users      UserDirectory
	notifier   Notifier
	limiter    *ratelimit.Limiter
	auditLog   *audit.Logger
	now        func() time.Time
}

func NewService(
	config *config.ApprovalConfig,
	log *zap.Logger,
	repo Repository,
	engine *crypto.Engine,
	users UserDirectory,
	notifier Notifier,
	limiter *ratelimit.Limiter,
	auditLog *audit.Logger,
) *Service {
	return &Service{
		config:     config,
		log:        log,
		repository: repo,
		engine:     engine,
		users:      users,
		notifier:   notifier,
		limiter:    limiter,
		auditLog:   auditLog,
		now:        time.Now,
	}
}

// CreateRequest opens a pending approval request for the given identity and
// hands the prompt to the notifier. Delivery happens in the background;
// whatever the transport does, the request is already pending and will
// expire on its own if nobody responds.
func (s *Service) CreateRequest(ctx context.Context, externalID string, reqCtx RequestContext) (*Request, error) {
	if err := s.limiter.Allow(externalID, "approval_request"); err != nil {
		return nil, err
	}

	var userID *uint
	user, err := s.users.GetUserByExternalID(externalID)
	switch {
	case err == nil:
		userID = &user.ID
	case errors.Is(err, credentials.ErrUserNotFound):
		// keep going with an unresolved identity
	default:
		return nil, err
	}

	// uuid plus a random suffix: unguessable even if the uuid source were
	// ever predictable.
	suffix, err := crypto.GenerateToken(9)
	if err != nil {
		return nil, err
	}

	now := s.now()
	request := &Request{
		RequestID:  uuid.NewString() + "." + suffix,
		ExternalID: externalID,
		UserID:     userID,
		IPAddress:  reqCtx.IPAddress,
		DeviceInfo: reqCtx.DeviceInfo,
		Status:     StatusPending,
		ExpiresAt:  now.Add(s.requestTTL()),
	}
	if err := s.repository.Create(request); err != nil {
		return nil, err
	}

	s.auditLog.Success(audit.EventApprovalRequested, userID, reqCtx.IPAddress, reqCtx.DeviceInfo)
	s.log.Info("approval request created",
		zap.String("request_id", request.RequestID),
		zap.Time("expires_at", request.ExpiresAt))

	go s.deliver(request.RequestID, externalID, reqCtx)

	return request, nil
}

// deliver runs on its own goroutine with a fresh context: the HTTP request
// that created the approval has usually returned by the time the transport
// answers.
func (s *Service) deliver(requestID, externalID string, reqCtx RequestContext) {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTTL())
	defer cancel()

	delivered, messageRef, err := s.notifier.DeliverApprovalPrompt(ctx, externalID, requestID, reqCtx)
	if err != nil {
		s.log.Warn("approval prompt delivery failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		return
	}
	if delivered && messageRef != "" {
		if err := s.repository.SetMessageRef(requestID, messageRef); err != nil {
			s.log.Warn("failed to store approval message ref",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}
}

// Approve resolves a pending request in the user's favor and returns the
// one-time completion code. The plaintext code exists only in this return
// value; the store keeps its keyed hash.
func (s *Service) Approve(requestID string) (string, *Request, error) {
	code, err := crypto.GenerateOTP(s.codeDigits())
	if err != nil {
		return "", nil, err
	}

	request, err := s.repository.Approve(requestID, s.engine.HashCode(code), s.now())
	if err != nil {
		if errors.Is(err, ErrRequestExpired) {
			s.auditLog.Failure(audit.EventApprovalExpired, request.UserID, request.IPAddress, request.DeviceInfo, "approved after deadline")
		}
		return "", nil, err
	}

	s.auditLog.Success(audit.EventApprovalApproved, request.UserID, request.IPAddress, request.DeviceInfo)
	return code, request, nil
}

// Deny resolves a pending request against the user.
func (s *Service) Deny(requestID string) (*Request, error) {
	request, err := s.repository.Deny(requestID, s.now())
	if err != nil {
		if errors.Is(err, ErrRequestExpired) {
			s.auditLog.Failure(audit.EventApprovalExpired, request.UserID, request.IPAddress, request.DeviceInfo, "denied after deadline")
		}
		return nil, err
	}

	s.auditLog.Failure(audit.EventApprovalDenied, request.UserID, request.IPAddress, request.DeviceInfo, "denied by approver")
	return request, nil
}

// GetStatus returns the request for polling, expiring it first when its
// deadline has passed. The code hash never leaves the service; callers see
// only the status.
func (s *Service) GetStatus(requestID string) (*Request, error) {
	request, flipped, err := s.repository.ExpireIfOverdue(requestID, s.now())
	if err != nil {
		return nil, err
	}
	if flipped {
		s.auditLog.Failure(audit.EventApprovalExpired, request.UserID, request.IPAddress, request.DeviceInfo, "no response before deadline")
	}
	return request, nil
}

// VerifyCode consumes the one-time completion code. It succeeds at most once
// per request: the conditional update clearing the hash is the consumption,
// so two racing calls cannot both pass.
func (s *Service) VerifyCode(requestID, code string) error {
	request, _, err := s.repository.ExpireIfOverdue(requestID, s.now())
	if err != nil {
		return err
	}

	ok, err := s.repository.ConsumeCode(requestID, s.engine.HashCode(code))
	if err != nil {
		return err
	}
	if !ok {
		s.auditLog.Failure(audit.EventApprovalCodeUsed, request.UserID, request.IPAddress, request.DeviceInfo, "code rejected")
		return ErrCodeInvalid
	}

	s.auditLog.Success(audit.EventApprovalCodeUsed, request.UserID, request.IPAddress, request.DeviceInfo)
	return nil
}

// SweepExpired bulk-expires overdue pending requests and deletes terminal
// rows older than the retention window. Lazy expiry on read keeps the state
// machine correct without it; the sweep just keeps the table small.
func (s *Service) SweepExpired() error {
	now := s.now()

	expired, err := s.repository.ExpirePendingBefore(now)
	if err != nil {
		return err
	}
	deleted, err := s.repository.DeleteTerminalBefore(now.Add(-s.retention()))
	if err != nil {
		return err
	}

	if expired > 0 || deleted > 0 {
		s.log.Debug("approval sweep",
			zap.Int64("expired", expired),
			zap.Int64("deleted", deleted))
	}
	return nil
}

// SweepInterval is the cadence the background sweeper runs at.
func (s *Service) SweepInterval() time.Duration {
	if s.config != nil && s.config.SweepInterval > 0 {
		return s.config.SweepInterval
	}
	return defaultSweepInterval
}

func (s *Service) requestTTL() time.Duration {
	if s.config != nil && s.config.RequestTTL > 0 {
		return s.config.RequestTTL
	}
	return defaultRequestTTL
}

func (s *Service) codeDigits() int {
	if s.config != nil && s.config.CodeDigits > 0 {
		return s.config.CodeDigits
	}
	return defaultCodeDigits
}

func (s *Service) retention() time.Duration {
	if s.config != nil && s.config.Retention > 0 {
		return s.config.Retention
	}
	return defaultRetention
}
