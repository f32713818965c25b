package handlers

import (
	"context"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/pocketbase/pocketbase/core"

	"ticket-payments/internal/gateway"
	"ticket-payments/internal/services"
	"ticket-payments/models"
)

const IdempotencyHeader = "Idempotency-Key"

type Withdrawals interface {
	Withdraw(ctx context.Context, req services.WithdrawalRequest) (*models.TransferRecord, error)
	Status(ctx context.Context, reference string) (*models.TransferRecord, error)
}

type AccountResolver interface {
	ResolveAccountNumber(ctx context.Context, accountNumber, bankCode string) (*gateway.ResolvedAccount, error)
}

type WithdrawalHandler struct {
	withdrawals Withdrawals
	resolver    AccountResolver
	logger      *slog.Logger
}

func NewWithdrawalHandler(withdrawals Withdrawals, resolver AccountResolver, logger *slog.Logger) *WithdrawalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithdrawalHandler{withdrawals: withdrawals, resolver: resolver, logger: logger}
}

// Withdraw - Pay organizer earnings out to a bank account
func (h *WithdrawalHandler) Withdraw(e *core.RequestEvent) error {
	var req services.WithdrawalRequest
	if err := e.BindBody(&req); err != nil {
		return badRequest(e, "Invalid request")
	}
	req.IdempotencyKey = e.Request.Header.Get(IdempotencyHeader)
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.OrganizerID, validation.Required),
		validation.Field(&req.BankCode, validation.Required, is.Digit),
		validation.Field(&req.AccountNumber, validation.Required, is.Digit, validation.Length(10, 10)),
	); err != nil {
		return respondError(e, h.logger, err)
	}

	rec, err := h.withdrawals.Withdraw(e.Request.Context(), req)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusAccepted, rec)
}

// Status - Poll a withdrawal
func (h *WithdrawalHandler) Status(e *core.RequestEvent) error {
	rec, err := h.withdrawals.Status(e.Request.Context(), e.Request.PathValue("reference"))
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, rec)
}

// ResolveAccount - Look up the holder name of a bank account
func (h *WithdrawalHandler) ResolveAccount(e *core.RequestEvent) error {
	var req struct {
		AccountNumber string `json:"account_number"`
		BankCode      string `json:"bank_code"`
	}
	if err := e.BindBody(&req); err != nil {
		return badRequest(e, "Invalid request")
	}

	acct, err := h.resolver.ResolveAccountNumber(e.Request.Context(), req.AccountNumber, req.BankCode)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, acct)
}
