package auth

import (
	"errors"
	"net/http"
	"strings"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type statusRequest struct {
	Active *bool `json:"active"`
}

type authPayload struct {
	User   Profile `json:"user"`
	Tokens Tokens  `json:"tokens"`
}

// Routes registers the auth surface on mux under prefix. The rate limiter
// covers the unauthenticated routes only.
func (h *Handler) Routes(mux *http.ServeMux, prefix string, guard *Guard, limiter *LoginRateLimiter) {
	prefix = strings.TrimRight(prefix, "/")
	limited := func(fn http.HandlerFunc) http.Handler {
		if limiter == nil {
			return fn
		}
		return limiter.Middleware(fn)
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return guard.Require(RequireRoles(RoleAdmin)(fn))
	}

	mux.Handle("POST "+prefix+"/auth/register", limited(h.Register))
	mux.Handle("POST "+prefix+"/auth/login", limited(h.Login))
	mux.Handle("POST "+prefix+"/auth/refresh-token", limited(h.Refresh))
	mux.Handle("POST "+prefix+"/auth/logout", guard.Require(http.HandlerFunc(h.Logout)))
	mux.Handle("POST "+prefix+"/auth/logout-all", guard.Require(http.HandlerFunc(h.LogoutAll)))
	mux.Handle("GET "+prefix+"/auth/me", guard.Require(http.HandlerFunc(h.Me)))
	mux.Handle("PUT "+prefix+"/auth/profile", guard.Require(http.HandlerFunc(h.UpdateProfile)))
	mux.Handle("PUT "+prefix+"/auth/change-password", guard.Require(http.HandlerFunc(h.ChangePassword)))
	mux.Handle("GET "+prefix+"/auth/sessions", guard.Require(http.HandlerFunc(h.Sessions)))
	mux.Handle("DELETE "+prefix+"/auth/sessions/{id}", guard.Require(http.HandlerFunc(h.RevokeSession)))
	mux.Handle("GET "+prefix+"/auth/admin/users/{id}", admin(h.AdminGetUser))
	mux.Handle("PUT "+prefix+"/auth/admin/users/{id}/status", admin(h.AdminSetStatus))
	mux.Handle("POST "+prefix+"/auth/admin/users/{id}/unlock", admin(h.AdminUnlock))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Register(r.Context(), body, clientInfo(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusCreated, "REGISTRATION_SUCCESS", "user registered successfully", authPayload{
		User:   result.Account.Profile(),
		Tokens: result.Tokens,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body, clientInfo(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "LOGIN_SUCCESS", "login successful", authPayload{
		User:   result.Account.Profile(),
		Tokens: result.Tokens,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), body.RefreshToken, clientInfo(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "TOKEN_REFRESHED", "token refreshed successfully", map[string]any{"tokens": tokens})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, ErrAuthRequired)
		return
	}

	var body logoutRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Logout(r.Context(), account.ID, body.RefreshToken); err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "LOGOUT_SUCCESS", "logout successful", nil)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, ErrAuthRequired)
		return
	}

	if err := h.service.LogoutAll(r.Context(), account.ID); err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "LOGOUT_ALL_SUCCESS", "logged out from all devices", nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, ErrAuthRequired)
		return
	}

	WriteSuccess(w, http.StatusOK, "PROFILE_RETRIEVED", "profile retrieved successfully", map[string]any{"user": account.Profile()})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, ErrAuthRequired)
		return
	}

	var body ProfileUpdate
	if !decodeJSON(w, r, &body) {
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), account.ID, body)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "PROFILE_UPDATED", "profile updated successfully", map[string]any{"user": updated.Profile()})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, ErrAuthRequired)
		return
	}

	var body PasswordChange
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), account.ID, body); err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "PASSWORD_CHANGED", "password changed successfully, please log in again", nil)
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, ErrAuthRequired)
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), account.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "SESSIONS_RETRIEVED", "active sessions retrieved", map[string]any{"sessions": sessions})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, ErrAuthRequired)
		return
	}

	if err := h.service.RevokeSession(r.Context(), account.ID, r.PathValue("id")); err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "SESSION_REVOKED", "session revoked successfully", nil)
}

func (h *Handler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "USER_RETRIEVED", "user retrieved successfully", map[string]any{"user": account.Profile()})
}

func (h *Handler) AdminSetStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Active == nil {
		WriteError(w, &ValidationError{Fields: []FieldError{{Field: "active", Message: "active is required"}}})
		return
	}

	account, err := h.service.SetActive(r.Context(), r.PathValue("id"), *body.Active)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "USER_STATUS_UPDATED", "user status updated successfully", map[string]any{"user": account.Profile()})
}

func (h *Handler) AdminUnlock(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Unlock(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "USER_UNLOCKED", "user unlocked successfully", map[string]any{"user": account.Profile()})
}

// writeAdminError answers 404 when the target account does not exist.
func writeAdminError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUserNotFound) {
		WriteFailure(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found", nil)
		return
	}
	WriteError(w, err)
}

// NotFound answers unmatched routes with the standard envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteFailure(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "route "+r.URL.Path+" not found", nil)
}
