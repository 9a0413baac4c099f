package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/logging"
)

// AuthHandler exposes registration, login and the current principal.
type AuthHandler struct {
	authn *auth.Authenticator
	now   func() time.Time
}

func NewAuthHandler(authn *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authn: authn, now: time.Now}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authn *auth.Authenticator, mw *AuthMiddleware) {
	handler := NewAuthHandler(authn)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.With(mw.RequireAuth).Get("/me", handler.Me)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Response
	ID int `json:"id"`
}

type LoginResponse struct {
	Response
	Token     string            `json:"token"`
	Subject   string            `json:"subject"`
	Claims    map[string]string `json:"claims"`
	Roles     []string          `json:"roles"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type MeResponse struct {
	Response
	AccountID int       `json:"account_id,omitempty"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	id, err := h.authn.Register(r.Context(), req)
	if err != nil {
		var verr *auth.ValidationError
		switch {
		case errors.As(err, &verr):
			writeValidationError(w, verr)
		case errors.Is(err, auth.ErrConflict):
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrSystemMisconfigured):
			writeError(w, http.StatusInternalServerError, "registration is temporarily unavailable")
		default:
			hlog.FromRequest(r).Error().Err(err).Str(logging.FieldFault, logging.FaultOperator).Msg("registration failed")
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		Response: Response{Success: true, Message: "registration successful"},
		ID:       id,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	token, err := h.authn.Login(r.Context(), req.Email, req.Password, h.now())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, auth.ErrAccountDisabled):
			writeError(w, http.StatusForbidden, "account disabled")
		default:
			hlog.FromRequest(r).Error().Err(err).Str(logging.FieldFault, logging.FaultOperator).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Response:  Response{Success: true},
		Token:     token.Value,
		Subject:   token.Subject,
		Claims:    token.Claims,
		Roles:     token.Roles,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		Response:  Response{Success: true},
		AccountID: principal.AccountID,
		Email:     principal.Email,
		Name:      principal.Name,
		Roles:     principal.Roles,
		ExpiresAt: principal.ExpiresAt,
	})
}
