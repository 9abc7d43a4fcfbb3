// Package http exposes the auth service over HTTP/JSON.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/amandeep-boot/simple-auth-file-microservices/internal/domain"
	"github.com/amandeep-boot/simple-auth-file-microservices/internal/service"
	apperrors "github.com/amandeep-boot/simple-auth-file-microservices/pkg/errors"
	"github.com/amandeep-boot/simple-auth-file-microservices/pkg/httputil"
	"github.com/amandeep-boot/simple-auth-file-microservices/pkg/middleware"
	"github.com/amandeep-boot/simple-auth-file-microservices/pkg/validator"
)

// maxBodyBytes caps request body size.
const maxBodyBytes = 1 << 20 // 1 MiB

// RegisterRequest is the payload for user registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the payload for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the payload for session refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest is the payload for logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest is the payload for password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// UserResponse is the public representation of a user.
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// TokenPairResponse carries a freshly minted access/refresh pair.
type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	User   UserResponse      `json:"user"`
	Tokens TokenPairResponse `json:"tokens"`
}

// ValidateResponse is returned on successful token validation.
type ValidateResponse struct {
	UserID string `json:"user_id"`
}

// AuthHandler handles auth HTTP endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: toUserResponse(user)})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: LoginResponse{
		User:   toUserResponse(user),
		Tokens: h.toTokenPairResponse(pair.AccessToken, pair.RefreshToken),
	}})
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: h.toTokenPairResponse(pair.AccessToken, pair.RefreshToken),
	})
}

// Logout handles POST /api/v1/auth/logout. It is idempotent: logging out an
// already-dead session succeeds. The bearer token, if presented, is fed to
// the optional denylist.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	accessToken, _ := middleware.BearerToken(r)

	if err := h.service.Logout(r.Context(), req.RefreshToken, accessToken); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Validate handles GET /api/v1/auth/validate. Collaborating services call
// this to check a bearer token; the response never says why a token was
// rejected.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	accessToken, _ := middleware.BearerToken(r)

	userID, err := h.service.Validate(r.Context(), accessToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: ValidateResponse{UserID: userID}})
}

// Me handles GET /api/v1/users/me. Requires the Auth middleware.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("unauthorized"), h.logger)
		return
	}

	user, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toUserResponse(user)})
}

// ChangePassword handles POST /api/v1/auth/change-password. Requires the
// Auth middleware; revokes every session of the user on success.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("unauthorized"), h.logger)
		return
	}

	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// validateToken bridges the service's validation authority to the generic
// auth middleware.
func (h *AuthHandler) validateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	userID, err := h.service.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{UserID: userID}, nil
}

// decode reads, parses and validates a JSON request body. It writes the
// error response itself and reports whether the handler should continue.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return false
	}

	if err := validator.Validate(v); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}

	return true
}

func (h *AuthHandler) toTokenPairResponse(access, refresh string) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.service.AccessTTL().Seconds()),
	}
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}
