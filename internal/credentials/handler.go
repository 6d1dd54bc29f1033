package credentials

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
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
	r.Post("/users", h.createUser)
	r.Get("/identities/{externalID}", h.getUser)
	r.Post("/identities/{externalID}/login-attempts", h.recordLoginAttempt)
	r.Post("/users/{id}/activate", h.statusAction((*Service).ActivateUser))
	r.Post("/users/{id}/suspend", h.statusAction((*Service).SuspendUser))
	r.Post("/users/{id}/ban", h.statusAction((*Service).BanUser))
	r.Put("/users/{id}/role", h.setRole)
}

type createUserRequest struct {
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}

type userResponse struct {
	ID          uint   `json:"id"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
	Status      Status `json:"status"`
	Role        string `json:"role"`
	MFAEnabled  bool   `json:"mfa_enabled"`
}

func toUserResponse(u *User) userResponse {
	return userResponse{
		ID:          u.ID,
		ExternalID:  u.ExternalID,
		DisplayName: u.DisplayName,
		Status:      u.Status,
		Role:        u.Role,
		MFAEnabled:  u.MFAEnabled,
	}
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == "" {
		http.Error(w, "external_id is required", http.StatusBadRequest)
		return
	}

	user, err := h.service.CreateUser(req.ExternalID, req.DisplayName)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			http.Error(w, "identity already linked", http.StatusConflict)
			return
		}
		h.log.Error("failed to create user", zap.Error(err))
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toUserResponse(user))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	user, err := h.service.GetUserByExternalID(externalID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to fetch user", zap.Error(err))
		http.Error(w, "failed to fetch user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toUserResponse(user))
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		http.Error(w, "role is required", http.StatusBadRequest)
		return
	}

	if err := h.service.SetRole(uint(id), req.Role); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to set role", zap.Error(err))
		http.Error(w, "failed to set role", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// recordLoginAttempt feeds the lockout counter. The outcome of the
// credential check happens upstream; this endpoint only records it, so it
// reports the lock state back to the caller rather than deciding anything.
func (h *Handler) recordLoginAttempt(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	var req struct {
		Success    bool   `json:"success"`
		IPAddress  string `json:"ip_address"`
		DeviceInfo string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reqCtx := RequestContext{IPAddress: req.IPAddress, DeviceInfo: req.DeviceInfo}

	var userID *uint
	user, err := h.service.GetUserByExternalID(externalID)
	switch {
	case err == nil:
		userID = &user.ID
	case errors.Is(err, ErrUserNotFound):
		// recorded without a user reference
	default:
		h.log.Error("failed to resolve user", zap.Error(err))
		http.Error(w, "failed to record attempt", http.StatusInternalServerError)
		return
	}

	if err := h.service.RecordLoginAttempt(req.Success, userID, externalID, reqCtx); err != nil {
		h.log.Error("failed to record login attempt", zap.Error(err))
		http.Error(w, "failed to record attempt", http.StatusInternalServerError)
		return
	}

	locked := false
	if userID != nil {
		locked = errors.Is(h.service.CheckLocked(*userID), ErrAccountLocked)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"locked": locked})
}

func (h *Handler) statusAction(fn func(*Service, uint) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
		if err != nil {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}

		if err := fn(h.service, uint(id)); err != nil {
			switch {
			case errors.Is(err, ErrUserNotFound):
				http.Error(w, "user not found", http.StatusNotFound)
			case errors.Is(err, ErrBadTransition):
				http.Error(w, "invalid status transition", http.StatusConflict)
			default:
				h.log.Error("failed to update user status", zap.Error(err))
				http.Error(w, "failed to update status", http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
