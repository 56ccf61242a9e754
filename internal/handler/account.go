package handler

import (
	"context"
	"net/http"

	"github.com/fortec/gateway/internal/auth"
	"github.com/fortec/gateway/internal/handler/dto"
	"github.com/fortec/gateway/internal/identity"
	"github.com/fortec/gateway/internal/middleware"
	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/quota"
)

// AccountService registers accounts and rotates their keys.
// identity.Service implements it.
type AccountService interface {
	Register(ctx context.Context, in identity.RegisterInput) (*model.Account, string, error)
	RotateAPIKey(ctx context.Context, acc *model.Account, currentKey string) (string, error)
}

// QuotaReporter computes what an account has left.
type QuotaReporter interface {
	Remaining(acc *model.Account) quota.Remaining
}

// AccountHandler handles the /auth endpoints.
type AccountHandler struct {
	*Handler
	accounts AccountService
	quota    QuotaReporter
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(h *Handler, accounts AccountService, reporter QuotaReporter) *AccountHandler {
	return &AccountHandler{Handler: h, accounts: accounts, quota: reporter}
}

// Register handles POST /auth/register.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	acc, key, err := h.accounts.Register(r.Context(), identity.RegisterInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.RegisterResponse{
		Success: true,
		APIKey:  key,
		Message: "Account registered successfully. Keep your API key safe!",
		Data:    dto.ToAccountSummary(acc),
	})
}

// RotateKey handles POST /auth/api-key. The key used to authenticate
// this request stops working once the response is sent.
func (h *AccountHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	acc := auth.MustAccountFromContext(r.Context())

	key, err := h.accounts.RotateAPIKey(r.Context(), acc, middleware.ExtractAPIKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.RotateKeyResponse{
		Success: true,
		APIKey:  key,
		Message: "New API key generated successfully. Previous API key is now invalid.",
	})
}

// Profile handles GET /auth/profile.
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	acc := auth.MustAccountFromContext(r.Context())
	writeJSON(w, http.StatusOK, dto.OK(dto.ToProfile(acc, h.quota.Remaining(acc))))
}
