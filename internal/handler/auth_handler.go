package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"swap-service/internal/service"
	"swap-service/internal/token"
	"swap-service/internal/verification"
)

// AuthHandler exposes the account lifecycle endpoints.
type AuthHandler struct {
	users  *service.UserService
	tokens *token.Service
}

func NewAuthHandler(users *service.UserService, tokens *token.Service) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Get("/verify-email", h.VerifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens, token.Access))
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)
		r.Post("/resend-verification", h.ResendVerification)
		r.Delete("/me", h.Deactivate)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens, token.Refresh))
		r.Post("/refresh", h.Refresh)
	})

	return r
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrEmailTaken),
			errors.Is(err, service.ErrUsernameTaken):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, pair, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, service.ErrAccountDeactivated):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		UserID:       user.ID,
	})
}

// Logout revokes the presented access token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	if err := h.users.Logout(r.Context(), claims); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Refresh mints a fresh access token from a valid refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	access, err := h.users.RefreshAccess(r.Context(), claims)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": access,
		"token_type":   "bearer",
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	user, err := h.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusBadRequest, "token query parameter is required")
		return
	}

	user, err := h.users.VerifyEmail(r.Context(), tokenStr)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, verification.ErrAlreadyUsed),
			errors.Is(err, verification.ErrExpired):
			writeError(w, http.StatusGone, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "verified",
		"user":   user,
	})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	if err := h.users.ResendVerification(r.Context(), claims.Subject); err != nil {
		switch {
		case errors.Is(err, verification.ErrResendLimitReached):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "resend failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "verification mail queued"})
}

// Deactivate disables the account and revokes the presented token.
func (h *AuthHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	if err := h.users.Deactivate(r.Context(), claims.Subject); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "deactivation failed")
		return
	}

	// Best effort; future validations fail on is_active anyway.
	_ = h.users.Logout(r.Context(), claims)

	writeJSON(w, http.StatusOK, map[string]string{"status": "account deactivated"})
}
