package models

import (
	"time"

	"github.com/shopspring/decimal"

	"ticket-payments/internal/status"
)

// PaymentRecord is the minimal local state kept for one checkout.
type PaymentRecord struct {
	Reference                  string          `json:"reference"`
	VendorTransactionReference string          `json:"vendor_transaction_reference,omitempty"`
	OrderID                    string          `json:"order_id,omitempty"`
	EventID                    string          `json:"event_id,omitempty"`
	Email                      string          `json:"email"`
	Amount                     decimal.Decimal `json:"amount"`
	AmountPaid                 decimal.Decimal `json:"amount_paid"`
	Status                     status.Payment  `json:"status"`          // pending, paid, failed
	VendorRawStatus            string          `json:"vendor_raw_status"` // as last reported by the processor
	PaymentMethod              string          `json:"payment_method,omitempty"`
	CheckoutURL                string          `json:"checkout_url,omitempty"`
	CreatedAt                  time.Time       `json:"created_at"`
	UpdatedAt                  time.Time       `json:"updated_at"`
	CompletedAt                *time.Time      `json:"completed_at,omitempty"`
}

// Advance applies an observed status. It returns true only when the record
// moves into a terminal status for the first time.
func (p *PaymentRecord) Advance(observed status.Payment, raw string, at time.Time) bool {
	before := p.Status
	p.Status = status.Transition(before, observed)
	p.UpdatedAt = at
	if !before.Terminal() {
		p.VendorRawStatus = raw
	}
	if p.Status.Terminal() && !before.Terminal() {
		p.CompletedAt = &at
		return true
	}
	return false
}

// PaymentNotification is published when a payment settles.
type PaymentNotification struct {
	Type                       string          `json:"type"` // payment.paid, payment.failed
	Reference                  string          `json:"reference"`
	VendorTransactionReference string          `json:"vendor_transaction_reference,omitempty"`
	OrderID                    string          `json:"order_id,omitempty"`
	Status                     status.Payment  `json:"status"`
	Amount                     decimal.Decimal `json:"amount"`
	Timestamp                  time.Time       `json:"timestamp"`
}

const (
	NotificationPaymentPaid   = "payment.paid"
	NotificationPaymentFailed = "payment.failed"
	NotificationRefund        = "refund.requested"
	NotificationWithdrawal    = "withdrawal.updated"
)

// NotificationFor builds the settlement notification for a terminal record.
func NotificationFor(p *PaymentRecord, at time.Time) PaymentNotification {
	kind := NotificationPaymentFailed
	if p.Status == status.Paid {
		kind = NotificationPaymentPaid
	}
	return PaymentNotification{
		Type:                       kind,
		Reference:                  p.Reference,
		VendorTransactionReference: p.VendorTransactionReference,
		OrderID:                    p.OrderID,
		Status:                     p.Status,
		Amount:                     p.AmountPaid,
		Timestamp:                  at,
	}
}
