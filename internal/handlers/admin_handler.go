package handlers

import (
	"context"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/pocketbase/pocketbase/core"

	"ticket-payments/internal/gateway"
	"ticket-payments/models"
)

type Accounts interface {
	Provision(ctx context.Context, organizerID, name, email string) (*models.OrganizerAccount, error)
	Deactivate(ctx context.Context, organizerID string) (*models.OrganizerAccount, error)
}

type Banks interface {
	List(ctx context.Context) ([]gateway.Bank, error)
}

// AdminHandler serves the operator routes for organizer accounts and the
// bank directory.
type AdminHandler struct {
	accounts Accounts
	banks    Banks
	logger   *slog.Logger
}

func NewAdminHandler(accounts Accounts, banks Banks, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{accounts: accounts, banks: banks, logger: logger}
}

// ProvisionAccount - Reserve a deposit account for an organizer
func (h *AdminHandler) ProvisionAccount(e *core.RequestEvent) error {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := e.BindBody(&req); err != nil {
		return badRequest(e, "Invalid request")
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Email, validation.Required, is.EmailFormat),
	); err != nil {
		return respondError(e, h.logger, err)
	}

	acct, err := h.accounts.Provision(e.Request.Context(), e.Request.PathValue("organizerId"), req.Name, req.Email)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, acct)
}

// DeactivateAccount - Close an organizer's deposit account
func (h *AdminHandler) DeactivateAccount(e *core.RequestEvent) error {
	acct, err := h.accounts.Deactivate(e.Request.Context(), e.Request.PathValue("organizerId"))
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, acct)
}

// ListBanks - Banks that can receive withdrawals
func (h *AdminHandler) ListBanks(e *core.RequestEvent) error {
	banks, err := h.banks.List(e.Request.Context())
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"banks": banks})
}
