package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticket-payments/internal/events"
	"ticket-payments/internal/gateway"
	"ticket-payments/internal/status"
	"ticket-payments/models"
	"ticket-payments/monitoring"
	"ticket-payments/utils"
)

type TransactionGateway interface {
	InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference, fallbackReference string) (*gateway.Verification, error)
}

type WebhookVerifier interface {
	VerifyPayload(p gateway.WebhookPayload, headerDigest string) bool
}

type PaymentStore interface {
	SavePayment(ctx context.Context, p *models.PaymentRecord) error
	SavePaymentIfOpen(ctx context.Context, p *models.PaymentRecord) (bool, error)
	GetPayment(ctx context.Context, reference string) (*models.PaymentRecord, error)
	MarkWebhookSeen(ctx context.Context, vendorRef string) (bool, error)
	ForgetWebhook(ctx context.Context, vendorRef string) error
}

type PaymentService struct {
	gateway  TransactionGateway
	store    PaymentStore
	verifier WebhookVerifier
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewPaymentService(gw TransactionGateway, store PaymentStore, verifier WebhookVerifier, pub events.Publisher, logger *slog.Logger) *PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &PaymentService{
		gateway:  gw,
		store:    store,
		verifier: verifier,
		events:   pub,
		logger:   logger,
		now:      time.Now,
	}
}

type CheckoutRequest struct {
	// Reference is minted when empty.
	Reference    string          `json:"reference"`
	OrderID      string          `json:"order_id"`
	EventID      string          `json:"event_id"`
	Email        string          `json:"email"`
	CustomerName string          `json:"customer_name"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
}

// StartCheckout opens a processor checkout and records the pending payment.
func (s *PaymentService) StartCheckout(ctx context.Context, req CheckoutRequest) (*models.PaymentRecord, error) {
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		minted, err := utils.TimestampedReference("PAY", s.now())
		if err != nil {
			return nil, err
		}
		ref = minted
	}

	res, err := s.gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Email:     req.Email,
		Amount:    req.Amount,
		Reference: ref,
		Metadata:  gateway.Metadata{CustomerName: req.CustomerName, Description: req.Description},
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &models.PaymentRecord{
		Reference:                  res.Reference,
		VendorTransactionReference: res.VendorTransactionReference,
		OrderID:                    req.OrderID,
		EventID:                    req.EventID,
		Email:                      req.Email,
		Amount:                     gateway.RoundAmount(req.Amount),
		Status:                     status.Pending,
		CheckoutURL:                res.CheckoutURL,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if err := s.store.SavePayment(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("checkout started", "reference", rec.Reference, "order", rec.OrderID, "amount", rec.Amount.String())
	return rec, nil
}

// Confirm verifies a payment with the processor and applies the result.
// Terminal records are returned as they are.
func (s *PaymentService) Confirm(ctx context.Context, reference, fallbackReference string) (*models.PaymentRecord, error) {
	rec, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	if fallbackReference == "" {
		fallbackReference = rec.VendorTransactionReference
	}
	v, err := s.gateway.VerifyTransaction(ctx, reference, fallbackReference)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, rec, v)
}

func (s *PaymentService) apply(ctx context.Context, rec *models.PaymentRecord, v *gateway.Verification) (*models.PaymentRecord, error) {
	if rec.VendorTransactionReference == "" {
		rec.VendorTransactionReference = v.VendorTransactionReference
	}
	if v.Method != "" {
		rec.PaymentMethod = v.Method
	}
	if !rec.Status.Terminal() {
		rec.AmountPaid = v.Amount
	}

	now := s.now()
	settled := rec.Advance(v.Status, v.RawStatus, now)
	written, err := s.store.SavePaymentIfOpen(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !written {
		// A concurrent confirmation settled it first.
		return s.store.GetPayment(ctx, rec.Reference)
	}
	if !settled {
		return rec, nil
	}

	monitoring.TrackPaymentTransition(string(rec.Status))
	s.logger.Info("payment settled", "reference", rec.Reference, "status", rec.Status, "raw_status", rec.VendorRawStatus)

	n := models.NotificationFor(rec, now)
	if err := s.events.Publish(ctx, events.Event{Type: n.Type, Subject: rec.Reference, Payload: n, OccurredAt: now}); err != nil {
		s.logger.Error("failed to publish settlement", "reference", rec.Reference, "error", err)
	}
	return rec, nil
}

// HandleWebhook authenticates and applies a transaction notification.
// Returns status.ErrUnverifiedNotice or status.ErrDuplicateNotice when the
// notice is not processed.
func (s *PaymentService) HandleWebhook(ctx context.Context, p gateway.WebhookPayload, headerDigest string) (*models.PaymentRecord, error) {
	if !s.verifier.VerifyPayload(p, headerDigest) {
		return nil, status.ErrUnverifiedNotice
	}

	rec, err := s.store.GetPayment(ctx, p.PaymentReference)
	if err != nil {
		return nil, err
	}

	paid, err := decimal.NewFromString(p.AmountPaid.String())
	if err != nil {
		return nil, status.Validation("webhook", "notification amount is not a number")
	}
	if !paid.Equal(rec.Amount) {
		s.logger.Warn("webhook amount disagrees with recorded amount",
			"reference", rec.Reference, "recorded", rec.Amount.String(), "notified", paid.String())
		return nil, status.Validation("webhook", "notification amount does not match the payment")
	}

	seenKey := p.VendorTransactionReference
	if seenKey == "" {
		seenKey = p.PaymentReference
	}
	first, err := s.store.MarkWebhookSeen(ctx, seenKey)
	if err != nil {
		return nil, err
	}
	if !first {
		return rec, status.ErrDuplicateNotice
	}

	confirmed, err := s.Confirm(ctx, p.PaymentReference, p.VendorTransactionReference)
	if err != nil {
		s.forgetWebhook(ctx, seenKey)
		return nil, fmt.Errorf("confirm %s: %w", p.PaymentReference, err)
	}
	if !confirmed.Status.Terminal() {
		// Processor has not settled yet; let a redelivery through.
		s.forgetWebhook(ctx, seenKey)
	}
	return confirmed, nil
}

func (s *PaymentService) forgetWebhook(ctx context.Context, seenKey string) {
	if err := s.store.ForgetWebhook(ctx, seenKey); err != nil {
		s.logger.Error("failed to clear webhook marker", "vendor_reference", seenKey, "error", err)
	}
}

// IsNotProcessed reports whether a webhook error means the notice was
// deliberately ignored.
func IsNotProcessed(err error) bool {
	return errors.Is(err, status.ErrUnverifiedNotice) ||
		errors.Is(err, status.ErrDuplicateNotice) ||
		errors.Is(err, status.ErrRecordNotFound)
}
