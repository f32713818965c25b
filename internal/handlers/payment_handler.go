package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/pocketbase/pocketbase/core"

	"ticket-payments/internal/gateway"
	"ticket-payments/internal/services"
	"ticket-payments/models"
)

const (
	SignatureHeader = "X-Gateway-Signature"
	maxWebhookBody  = 64 << 10
)

type Payments interface {
	StartCheckout(ctx context.Context, req services.CheckoutRequest) (*models.PaymentRecord, error)
	Confirm(ctx context.Context, reference, fallbackReference string) (*models.PaymentRecord, error)
	HandleWebhook(ctx context.Context, p gateway.WebhookPayload, headerDigest string) (*models.PaymentRecord, error)
}

type Refunds interface {
	Refund(ctx context.Context, req services.RefundRequest) (*models.RefundRecord, error)
}

type PaymentHandler struct {
	payments Payments
	refunds  Refunds
	logger   *slog.Logger
}

func NewPaymentHandler(payments Payments, refunds Refunds, logger *slog.Logger) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{payments: payments, refunds: refunds, logger: logger}
}

// Checkout - Start a checkout for a ticket order
func (h *PaymentHandler) Checkout(e *core.RequestEvent) error {
	var req services.CheckoutRequest
	if err := e.BindBody(&req); err != nil {
		return badRequest(e, "Invalid request")
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Email, validation.Required, is.EmailFormat),
		validation.Field(&req.OrderID, validation.Required, validation.Length(1, 64)),
	); err != nil {
		return respondError(e, h.logger, err)
	}

	rec, err := h.payments.StartCheckout(e.Request.Context(), req)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusCreated, rec)
}

// GetTransaction - Verify a payment and return its current state
func (h *PaymentHandler) GetTransaction(e *core.RequestEvent) error {
	ref := e.Request.PathValue("reference")
	fallback := e.Request.URL.Query().Get("fallback")

	rec, err := h.payments.Confirm(e.Request.Context(), ref, fallback)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusOK, rec)
}

// Refund - Request a full or partial refund
func (h *PaymentHandler) Refund(e *core.RequestEvent) error {
	var req services.RefundRequest
	if err := e.BindBody(&req); err != nil {
		return badRequest(e, "Invalid request")
	}
	req.IdempotencyKey = e.Request.Header.Get(IdempotencyHeader)

	rec, err := h.refunds.Refund(e.Request.Context(), req)
	if err != nil {
		return respondError(e, h.logger, err)
	}
	return e.JSON(http.StatusAccepted, rec)
}

// Webhook - Receive a transaction notification from the processor. Anything
// that is not processed gets the same acknowledgement so the sender does not
// retry.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	body, err := io.ReadAll(http.MaxBytesReader(e.Response, e.Request.Body, maxWebhookBody))
	if err != nil {
		return badRequest(e, "invalid payload")
	}
	p, err := decodeWebhook(body)
	if err != nil {
		return badRequest(e, "invalid payload")
	}

	rec, err := h.payments.HandleWebhook(e.Request.Context(), p, e.Request.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		return e.JSON(http.StatusOK, map[string]any{"received": true, "status": rec.Status})
	case services.IsNotProcessed(err):
		h.logger.Info("webhook not processed", "reference", p.PaymentReference, "reason", err)
		return e.JSON(http.StatusOK, map[string]any{"received": true})
	default:
		h.logger.Warn("webhook processing failed", "reference", p.PaymentReference, "error", err)
		return e.JSON(http.StatusOK, map[string]any{"received": true})
	}
}

var errWebhookPayload = errors.New("webhook payload has no payment reference")

// decodeWebhook accepts the flat notification or one wrapped in eventData.
func decodeWebhook(body []byte) (gateway.WebhookPayload, error) {
	var p gateway.WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, err
	}
	if p.PaymentReference != "" {
		return p, nil
	}

	var wrapped struct {
		EventData gateway.WebhookPayload `json:"eventData"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return p, err
	}
	if wrapped.EventData.PaymentReference == "" {
		return p, errWebhookPayload
	}
	return wrapped.EventData, nil
}
