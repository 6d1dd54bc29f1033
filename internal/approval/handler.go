package approval

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/ratelimit"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/approvals", h.create)
	r.Get("/approvals/{requestID}/status", h.status)
	r.Post("/approvals/{requestID}/approve", h.approve)
	r.Post("/approvals/{requestID}/deny", h.deny)
	r.Post("/approvals/{requestID}/verify-code", h.verifyCode)
}

// statusResponse is the polling view of a request. The one-time code and its
// hash are deliberately absent.
type statusResponse struct {
	RequestID string    `json:"request_id"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toStatusResponse(request *Request) statusResponse {
	return statusResponse{
		RequestID: request.RequestID,
		Status:    request.Status,
		ExpiresAt: request.ExpiresAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID string `json:"external_id"`
		IPAddress  string `json:"ip_address"`
		DeviceInfo string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == "" {
		http.Error(w, "external_id is required", http.StatusBadRequest)
		return
	}

	request, err := h.service.CreateRequest(r.Context(), req.ExternalID, RequestContext{
		IPAddress:  req.IPAddress,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			http.Error(w, "too many approval requests", http.StatusTooManyRequests)
			return
		}
		h.log.Error("failed to create approval request", zap.Error(err))
		http.Error(w, "failed to create approval request", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toStatusResponse(request))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	request, err := h.service.GetStatus(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(request))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	code, request, err := h.service.Approve(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		statusResponse
		Code string `json:"code"`
	}{
		statusResponse: toStatusResponse(request),
		Code:           code,
	})
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request) {
	request, err := h.service.Deny(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(request))
}

func (h *Handler) verifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyCode(chi.URLParam(r, "requestID"), req.Code); err != nil {
		switch {
		case errors.Is(err, ErrCodeInvalid):
			http.Error(w, "code invalid", http.StatusUnauthorized)
		case errors.Is(err, ErrRequestNotFound):
			http.Error(w, "approval request not found", http.StatusNotFound)
		default:
			h.log.Error("failed to verify approval code", zap.Error(err))
			http.Error(w, "failed to verify code", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Handler) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		http.Error(w, "approval request not found", http.StatusNotFound)
	case errors.Is(err, ErrRequestExpired):
		http.Error(w, "approval request expired", http.StatusGone)
	case errors.Is(err, ErrNotPending):
		http.Error(w, "approval request already resolved", http.StatusConflict)
	default:
		h.log.Error("approval request failed", zap.Error(err))
		http.Error(w, "approval request failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
