package mfa

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
	r.Post("/users/{id}/totp", h.setupTOTP)
	r.Post("/users/{id}/totp/verify", h.verifyTOTP)
	r.Post("/users/{id}/backup-codes", h.generateBackupCodes)
	r.Post("/users/{id}/backup-codes/verify", h.verifyBackupCode)
	r.Post("/users/{id}/trusted-devices", h.addTrustedDevice)
	r.Get("/users/{id}/trusted-devices/{fingerprint}", h.checkTrustedDevice)
	r.Post("/users/{id}/verification-codes", h.createVerificationCode)
	r.Post("/users/{id}/verification-codes/verify", h.checkVerificationCode)
	r.Get("/users/{id}/methods", h.listMethods)
	r.Delete("/users/{id}/methods/{type}", h.deactivateMethod)
}

func userID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	return uint(id), err == nil
}

func (h *Handler) setupTOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		AccountName string `json:"account_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountName == "" {
		http.Error(w, "account_name is required", http.StatusBadRequest)
		return
	}

	secret, url, err := h.service.GenerateTOTPSecret(req.AccountName)
	if err != nil {
		h.log.Error("failed to generate totp secret", zap.Error(err))
		http.Error(w, "failed to generate secret", http.StatusInternalServerError)
		return
	}

	if err := h.service.SetupTOTP(id, secret); err != nil {
		h.log.Error("failed to set up totp", zap.Error(err))
		http.Error(w, "failed to set up totp", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"secret":           secret,
		"provisioning_url": url,
	})
}

func (h *Handler) verifyTOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	valid, err := h.service.VerifyTOTP(id, req.Code)
	if err != nil {
		if errors.Is(err, ErrMethodNotFound) {
			http.Error(w, "totp not configured", http.StatusNotFound)
			return
		}
		h.log.Error("failed to verify totp", zap.Error(err))
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

func (h *Handler) generateBackupCodes(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	codes, err := h.service.GenerateBackupCodes(id, 0)
	if err != nil {
		h.log.Error("failed to generate backup codes", zap.Error(err))
		http.Error(w, "failed to generate codes", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string][]string{"codes": codes})
}

func (h *Handler) verifyBackupCode(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	valid, err := h.service.VerifyBackupCode(id, req.Code)
	if err != nil {
		h.log.Error("failed to verify backup code", zap.Error(err))
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

func (h *Handler) addTrustedDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		Fingerprint string `json:"fingerprint"`
		Label       string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fingerprint == "" {
		http.Error(w, "fingerprint is required", http.StatusBadRequest)
		return
	}

	if err := h.service.AddTrustedDevice(id, req.Fingerprint, req.Label); err != nil {
		h.log.Error("failed to add trusted device", zap.Error(err))
		http.Error(w, "failed to trust device", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) checkTrustedDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	trusted, err := h.service.IsTrustedDevice(id, chi.URLParam(r, "fingerprint"))
	if err != nil {
		h.log.Error("failed to check trusted device", zap.Error(err))
		http.Error(w, "failed to check device", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"trusted": trusted})
}

func (h *Handler) createVerificationCode(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		ExternalID string `json:"external_id"`
		CodeType   string `json:"code_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CodeType == "" {
		http.Error(w, "code_type is required", http.StatusBadRequest)
		return
	}

	code, err := h.service.CreateVerificationCode(&id, req.ExternalID, req.CodeType)
	if err != nil {
		h.log.Error("failed to create verification code", zap.Error(err))
		http.Error(w, "failed to create code", http.StatusInternalServerError)
		return
	}

	// The caller is the delivery layer; it forwards the code to the user and
	// never stores it.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code})
}

func (h *Handler) checkVerificationCode(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		ExternalID string `json:"external_id"`
		CodeType   string `json:"code_type"`
		Code       string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CodeType == "" || req.Code == "" {
		http.Error(w, "code_type and code are required", http.StatusBadRequest)
		return
	}

	valid, err := h.service.CheckVerificationCode(&id, req.ExternalID, req.CodeType, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeExpired):
			http.Error(w, "code expired", http.StatusGone)
		case errors.Is(err, ErrTooManyAttempts):
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
		default:
			h.log.Error("failed to check verification code", zap.Error(err))
			http.Error(w, "verification failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

func (h *Handler) listMethods(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	methods, err := h.service.ListMethods(id)
	if err != nil {
		h.log.Error("failed to list methods", zap.Error(err))
		http.Error(w, "failed to list methods", http.StatusInternalServerError)
		return
	}

	type methodResponse struct {
		MethodType string `json:"method_type"`
		IsPrimary  bool   `json:"is_primary"`
		IsActive   bool   `json:"is_active"`
	}
	out := make([]methodResponse, 0, len(methods))
	for _, m := range methods {
		out = append(out, methodResponse{
			MethodType: m.MethodType,
			IsPrimary:  m.IsPrimary,
			IsActive:   m.IsActive,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"methods": out})
}

func (h *Handler) deactivateMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	if err := h.service.DeactivateMethod(id, chi.URLParam(r, "type")); err != nil {
		if errors.Is(err, ErrMethodNotFound) {
			http.Error(w, "method not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to deactivate method", zap.Error(err))
		http.Error(w, "failed to deactivate method", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
