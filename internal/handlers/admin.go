package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/services"
	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
)

// AdminHandler exposes account administration.
type AdminHandler struct {
	accounts *services.AccountService
}

func NewAdminHandler(accounts *services.AccountService) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

// AdminRouter registers admin routes. Every route requires the ADMIN role.
func AdminRouter(r chi.Router, accounts *services.AccountService, mw *AuthMiddleware) {
	handler := NewAdminHandler(accounts)

	r.Use(mw.RequireAuth, mw.RequireRole(auth.AdminRole))
	r.Get("/accounts/{accountID}", handler.GetAccount)
	r.Put("/accounts/{accountID}/status", handler.SetAccountStatus)
}

// AccountStatusRequest requires both flags so a partial body cannot silently
// re-enable an account.
type AccountStatusRequest struct {
	Enabled *bool `json:"enabled"`
	Locked  *bool `json:"account_locked"`
}

type AccountResponse struct {
	Response
	Account types.Account `json:"account"`
	Enabled bool          `json:"enabled"`
	Locked  bool          `json:"account_locked"`
}

func accountResponse(account types.Account, message string) AccountResponse {
	return AccountResponse{
		Response: Response{Success: true, Message: message},
		Account:  account,
		Enabled:  account.Enabled,
		Locked:   account.AccountLocked,
	}
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "accountID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(account, ""))
}

func (h *AdminHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "accountID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req AccountStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Enabled == nil || req.Locked == nil {
		writeError(w, http.StatusBadRequest, "enabled and account_locked are required")
		return
	}

	account, err := h.accounts.SetStatus(r.Context(), id, *req.Enabled, *req.Locked)
	if err != nil {
		h.writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(account, "account status updated"))
}

func (h *AdminHandler) writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	hlog.FromRequest(r).Error().Err(err).Msg("account administration failed")
	writeError(w, http.StatusInternalServerError, "failed to update account")
}
