package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"auditdesk/storage"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      *storage.Profile `json:"user"`
	Roles     []storage.Role   `json:"roles"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid login credentials format", err, a.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	session := storage.NewSession(a.store, a.authOpts, a.logger)
	profile, err := session.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			a.logger.Infow("AUDIT: Login attempt failed",
				"action", "login",
				"outcome", "failure",
				"source_ip", clientIP(r),
				"request_id", GetRequestIDOrDefault(r.Context()))
			writeError(w, http.StatusUnauthorized, "Invalid credentials", nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Login failed", err, a.logger)
		return
	}

	token, expiresAt, err := generateJWT(profile, a.config.Auth.JWTSecret, a.config.Auth.JWTExpiry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err, a.logger)
		return
	}
	roles, err := a.store.UserRoles(ctx, profile.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load roles", err, a.logger)
		return
	}

	a.logger.Infow("AUDIT: Login succeeded",
		"action", "login",
		"outcome", "success",
		"user_id", profile.UserID,
		"source_ip", clientIP(r))
	a.respondJSON(w, loginResponse{Token: token, ExpiresAt: expiresAt, User: profile, Roles: roles}, http.StatusOK)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}
	user := session.CurrentUser()
	roles, err := a.store.UserRoles(r.Context(), user.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load roles", err, a.logger)
		return
	}
	a.respondJSON(w, map[string]any{"user": user, "roles": roles}, http.StatusOK)
}
