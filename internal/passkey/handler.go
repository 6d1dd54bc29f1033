package passkey

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
	r.Post("/users/{id}/passkeys/register/begin", h.beginRegistration)
	r.Post("/users/{id}/passkeys/register/complete", h.completeRegistration)
	r.Post("/users/{id}/passkeys/authenticate/begin", h.beginAuthentication)
	r.Post("/users/{id}/passkeys/authenticate/complete", h.completeAuthentication)
	r.Get("/users/{id}/passkeys", h.listCredentials)
	r.Delete("/users/{id}/passkeys/{credentialID}", h.removeCredential)
}

func userID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	return uint(id), err == nil
}

func (h *Handler) beginRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	params, err := h.service.BeginRegistration(id)
	if err != nil {
		h.log.Error("failed to begin passkey registration", zap.Error(err))
		http.Error(w, "failed to begin registration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(params)
}

func (h *Handler) completeRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var response CeremonyResponse
	if err := json.NewDecoder(r.Body).Decode(&response); err != nil || response.CredentialID == "" {
		http.Error(w, "invalid ceremony response", http.StatusBadRequest)
		return
	}

	if err := h.service.CompleteRegistration(id, &response); err != nil {
		h.writeCeremonyError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) beginAuthentication(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	params, err := h.service.BeginAuthentication(id)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			http.Error(w, "no registered passkeys", http.StatusNotFound)
			return
		}
		h.log.Error("failed to begin passkey authentication", zap.Error(err))
		http.Error(w, "failed to begin authentication", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(params)
}

func (h *Handler) completeAuthentication(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var response CeremonyResponse
	if err := json.NewDecoder(r.Body).Decode(&response); err != nil || response.CredentialID == "" {
		http.Error(w, "invalid ceremony response", http.StatusBadRequest)
		return
	}

	if err := h.service.CompleteAuthentication(id, &response); err != nil {
		h.writeCeremonyError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	credentials, err := h.service.ListCredentials(id)
	if err != nil {
		h.log.Error("failed to list passkeys", zap.Error(err))
		http.Error(w, "failed to list passkeys", http.StatusInternalServerError)
		return
	}

	type credentialResponse struct {
		CredentialID string `json:"credential_id"`
		DeviceLabel  string `json:"device_label"`
	}
	out := make([]credentialResponse, 0, len(credentials))
	for _, c := range credentials {
		out = append(out, credentialResponse{
			CredentialID: c.CredentialID,
			DeviceLabel:  c.DeviceLabel,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"credentials": out})
}

func (h *Handler) removeCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveCredential(id, chi.URLParam(r, "credentialID")); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			http.Error(w, "passkey not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to remove passkey", zap.Error(err))
		http.Error(w, "failed to remove passkey", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeCeremonyError maps the specific fail-closed errors to 4xx responses.
func (h *Handler) writeCeremonyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrChallengeMismatch),
		errors.Is(err, ErrOriginMismatch),
		errors.Is(err, ErrInvalidCeremonyType),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrNoChallenge):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrCredentialExists):
		http.Error(w, "credential already registered", http.StatusConflict)
	case errors.Is(err, ErrCredentialNotFound):
		http.Error(w, "credential not found", http.StatusNotFound)
	default:
		h.log.Error("passkey ceremony failed", zap.Error(err))
		http.Error(w, "ceremony failed", http.StatusInternalServerError)
	}
}
