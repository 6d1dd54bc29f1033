package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/approval"
	"github.com/knoxlock/authcore/internal/credentials"
)

// CredentialGate resolves external identities and enforces the lockout and
// attempt-accounting rules that guard every login path.
type CredentialGate interface {
	GetUserByExternalID(externalID string) (*credentials.User, error)
	CheckLocked(userID uint) error
	RecordLoginAttempt(success bool, userID *uint, externalID string, reqCtx credentials.RequestContext) error
}

// ApprovalVerifier consumes a one-time approval code. A session is only
// issued once a code minted by an approver has been spent here.
type ApprovalVerifier interface {
	VerifyCode(requestID, code string) error
}

type Handler struct {
	service     *Service
	credentials CredentialGate
	approvals   ApprovalVerifier
	log         *zap.Logger
}

func NewHandler(service *Service, credentials CredentialGate, approvals ApprovalVerifier, log *zap.Logger) *Handler {
	return &Handler{
		service:     service,
		credentials: credentials,
		approvals:   approvals,
		log:         log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.issue)
	r.Get("/sessions/current", h.current)
	r.Post("/sessions/refresh", h.refresh)
	r.Delete("/sessions/current", h.revoke)
	r.Delete("/users/{id}/sessions", h.revokeAll)
}

func (h *Handler) recordAttempt(success bool, userID *uint, externalID string, reqCtx credentials.RequestContext) {
	if err := h.credentials.RecordLoginAttempt(success, userID, externalID, reqCtx); err != nil {
		h.log.Warn("failed to record login attempt", zap.Error(err))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	return token, ok && token != ""
}

// issue mints a session only after the caller proves possession of a spent
// approval code. The lockout check runs before the code is consumed so a
// locked account cannot burn a valid code.
func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID        string `json:"external_id"`
		Fingerprint       string `json:"fingerprint"`
		ApprovalRequestID string `json:"approval_request_id"`
		ApprovalCode      string `json:"approval_code"`
		IPAddress         string `json:"ip_address"`
		DeviceInfo        string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.ExternalID == "" || req.ApprovalRequestID == "" || req.ApprovalCode == "" {
		http.Error(w, "external_id, approval_request_id and approval_code are required", http.StatusBadRequest)
		return
	}
	reqCtx := credentials.RequestContext{IPAddress: req.IPAddress, DeviceInfo: req.DeviceInfo}

	user, err := h.credentials.GetUserByExternalID(req.ExternalID)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			h.recordAttempt(false, nil, req.ExternalID, reqCtx)
			http.Error(w, "unknown identity", http.StatusUnauthorized)
			return
		}
		h.log.Error("failed to resolve user", zap.Error(err))
		http.Error(w, "failed to issue session", http.StatusInternalServerError)
		return
	}
	if err := h.credentials.CheckLocked(user.ID); err != nil {
		if errors.Is(err, credentials.ErrAccountLocked) {
			h.recordAttempt(false, &user.ID, req.ExternalID, reqCtx)
			http.Error(w, "account is locked", http.StatusForbidden)
			return
		}
		h.log.Error("lockout check failed", zap.Error(err))
		http.Error(w, "failed to issue session", http.StatusInternalServerError)
		return
	}
	if user.Status != credentials.StatusActive {
		http.Error(w, "account is not active", http.StatusForbidden)
		return
	}

	if err := h.approvals.VerifyCode(req.ApprovalRequestID, req.ApprovalCode); err != nil {
		switch {
		case errors.Is(err, approval.ErrCodeInvalid),
			errors.Is(err, approval.ErrRequestNotFound),
			errors.Is(err, approval.ErrRequestExpired),
			errors.Is(err, approval.ErrNotPending):
			h.recordAttempt(false, &user.ID, req.ExternalID, reqCtx)
			http.Error(w, "approval verification rejected", http.StatusUnauthorized)
		default:
			h.log.Error("approval verification failed", zap.Error(err))
			http.Error(w, "failed to issue session", http.StatusInternalServerError)
		}
		return
	}
	h.recordAttempt(true, &user.ID, req.ExternalID, reqCtx)

	issued, err := h.service.Issue(user, req.Fingerprint)
	if err != nil {
		h.log.Error("failed to issue session", zap.Error(err))
		http.Error(w, "failed to issue session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(issued)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing session token", http.StatusUnauthorized)
		return
	}

	session, err := h.service.Validate(token)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		UserID         uint      `json:"user_id"`
		Fingerprint    string    `json:"fingerprint"`
		ExpiresAt      time.Time `json:"expires_at"`
		LastActivityAt time.Time `json:"last_activity_at"`
	}{
		UserID:         session.UserID,
		Fingerprint:    session.Fingerprint,
		ExpiresAt:      session.ExpiresAt,
		LastActivityAt: session.LastActivityAt,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID   string `json:"external_id"`
		SessionToken string `json:"session_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.ExternalID == "" || req.SessionToken == "" || req.RefreshToken == "" {
		http.Error(w, "external_id, session_token and refresh_token are required", http.StatusBadRequest)
		return
	}

	user, err := h.credentials.GetUserByExternalID(req.ExternalID)
	if err != nil {
		http.Error(w, "unknown identity", http.StatusUnauthorized)
		return
	}

	accessToken, err := h.service.Refresh(user, req.SessionToken, req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshMismatch) {
			http.Error(w, "refresh token rejected", http.StatusUnauthorized)
			return
		}
		h.writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"access_token": accessToken})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing session token", http.StatusUnauthorized)
		return
	}

	if err := h.service.Revoke(token); err != nil {
		h.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeAll(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	count, err := h.service.RevokeAll(uint(id))
	if err != nil {
		h.log.Error("failed to revoke sessions", zap.Error(err))
		http.Error(w, "failed to revoke sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"revoked": count})
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusUnauthorized)
	case errors.Is(err, ErrSessionExpired):
		http.Error(w, "session expired", http.StatusUnauthorized)
	case errors.Is(err, ErrSessionRevoked):
		http.Error(w, "session revoked", http.StatusUnauthorized)
	default:
		h.log.Error("session lookup failed", zap.Error(err))
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
	}
}
