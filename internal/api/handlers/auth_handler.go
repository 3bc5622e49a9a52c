package handlers

import (
	"net/http"

	"github.com/forgeops/engine/internal/api/middleware"
	"github.com/forgeops/engine/internal/api/types"
	"github.com/forgeops/engine/internal/api/validators"
	"github.com/forgeops/engine/internal/services"
)

type AuthHandler struct {
	svc services.AuthService
}

func NewAuthHandler(svc services.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
		Name     string `json:"name" validate:"required"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	user, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	token, user, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, types.APIResponse{Success: false, Error: types.FromAppError(err)})
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]any{
		"token": token,
		"user":  user,
	}})
}

// ConnectProvider stores the caller's Git provider token for later use by
// the provisioning pipeline.
func (h *AuthHandler) ConnectProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider" validate:"required,oneof=github gitlab"`
		AccessToken string `json:"access_token" validate:"required"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.svc.ConnectProvider(r.Context(), userID, req.Provider, req.AccessToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{
		"provider": req.Provider,
		"status":   "connected",
	}})
}

func (h *AuthHandler) RevokeProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider" validate:"required,oneof=github gitlab"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.svc.RevokeProvider(r.Context(), userID, req.Provider); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{
		"provider": req.Provider,
		"status":   "revoked",
	}})
}
