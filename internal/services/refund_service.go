package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticket-payments/internal/events"
	"ticket-payments/internal/gateway"
	"ticket-payments/internal/status"
	"ticket-payments/models"
	"ticket-payments/utils"
)

type RefundGateway interface {
	RefundTransaction(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error)
}

type RefundStore interface {
	ReferenceFor(ctx context.Context, scope, key, candidate, fingerprint string, ttl time.Duration) (string, bool, error)
	GetPaymentByVendorReference(ctx context.Context, vendorRef string) (*models.PaymentRecord, error)
	SaveRefund(ctx context.Context, r *models.RefundRecord) error
	GetRefund(ctx context.Context, reference string) (*models.RefundRecord, error)
}

type RefundService struct {
	gateway RefundGateway
	store   RefundStore
	events  events.Publisher
	logger  *slog.Logger
	ttl     time.Duration // idempotency key lifetime
	now     func() time.Time
}

func NewRefundService(gw RefundGateway, store RefundStore, pub events.Publisher, idempotencyTTL time.Duration, logger *slog.Logger) *RefundService {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &RefundService{gateway: gw, store: store, events: pub, logger: logger, ttl: idempotencyTTL, now: time.Now}
}

type RefundRequest struct {
	IdempotencyKey             string           `json:"-"`
	VendorTransactionReference string           `json:"transaction_reference"`
	Amount                     *decimal.Decimal `json:"amount,omitempty"`
	Reason                     string           `json:"reason"`
}

// Refund requests a full or partial refund. Repeating a request with the same
// idempotency key reuses the refund reference bound to it.
func (s *RefundService) Refund(ctx context.Context, req RefundRequest) (*models.RefundRecord, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, status.Validation("refund", "idempotency key is required")
	}
	vendorRef := strings.TrimSpace(req.VendorTransactionReference)
	if vendorRef == "" {
		return nil, status.Validation("refund", "transaction reference is required")
	}

	var paymentRef string
	rec, err := s.store.GetPaymentByVendorReference(ctx, vendorRef)
	switch {
	case err == nil:
		if err := refundable(rec, req.Amount); err != nil {
			return nil, err
		}
		paymentRef = rec.Reference
	case errors.Is(err, status.ErrRecordNotFound):
		s.logger.Warn("refund for unrecorded payment; relying on processor checks", "vendor_reference", vendorRef)
	default:
		return nil, err
	}

	candidate, err := utils.TimestampedReference("REFUND", s.now())
	if err != nil {
		return nil, err
	}
	ref, fresh, err := s.store.ReferenceFor(ctx, "refund", key, candidate, refundFingerprint(req), s.ttl)
	if err != nil {
		return nil, err
	}
	if !fresh {
		if existing, err := s.store.GetRefund(ctx, ref); err == nil {
			return existing, nil
		}
	}

	res, err := s.gateway.RefundTransaction(ctx, gateway.RefundRequest{
		Reference:                  ref,
		VendorTransactionReference: vendorRef,
		Amount:                     req.Amount,
		Reason:                     req.Reason,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	refund := &models.RefundRecord{
		Reference:                  ref,
		IdempotencyKey:             key,
		PaymentReference:           paymentRef,
		VendorTransactionReference: vendorRef,
		Amount:                     req.Amount,
		Reason:                     req.Reason,
		Status:                     res.Status,
		CreatedAt:                  now,
	}
	if err := s.store.SaveRefund(ctx, refund); err != nil {
		return nil, err
	}

	e := events.Event{Type: models.NotificationRefund, Subject: refund.Reference, Payload: refund, OccurredAt: now}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Error("failed to publish refund", "reference", refund.Reference, "error", err)
	}
	return refund, nil
}

func refundable(rec *models.PaymentRecord, amount *decimal.Decimal) error {
	if rec.Status != status.Paid {
		return status.Validation("refund", "only settled payments can be refunded")
	}
	if amount == nil {
		return nil
	}
	paid := rec.AmountPaid
	if paid.IsZero() {
		paid = rec.Amount
	}
	if amount.GreaterThan(paid) {
		return status.Validation("refund", "refund amount exceeds the amount paid")
	}
	return nil
}

// refundFingerprint identifies a refund request apart from its reason text.
func refundFingerprint(req RefundRequest) string {
	amount := "full"
	if req.Amount != nil {
		amount = gateway.RoundAmount(*req.Amount).StringFixed(2)
	}
	return utils.Fingerprint(strings.TrimSpace(req.VendorTransactionReference), amount)
}
