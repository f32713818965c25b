package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRecord tracks an organizer withdrawal. Status is the processor's
// opaque value from the last poll.
type TransferRecord struct {
	Reference          string          `json:"reference"`
	IdempotencyKey     string          `json:"idempotency_key"`
	OrganizerID        string          `json:"organizer_id,omitempty"`
	DestinationBank    string          `json:"destination_bank"`
	DestinationAccount string          `json:"destination_account"`
	AccountName        string          `json:"account_name,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Fee                decimal.Decimal `json:"fee"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	CheckedAt          time.Time       `json:"checked_at"`
}

// RefundRecord tracks a refund request.
type RefundRecord struct {
	Reference                  string           `json:"reference"`
	IdempotencyKey             string           `json:"idempotency_key"`
	PaymentReference           string           `json:"payment_reference,omitempty"`
	VendorTransactionReference string           `json:"vendor_transaction_reference"`
	Amount                     *decimal.Decimal `json:"amount,omitempty"` // nil for a full refund
	Reason                     string           `json:"reason,omitempty"`
	Status                     string           `json:"status"`
	CreatedAt                  time.Time        `json:"created_at"`
}

// OrganizerAccount is the reserved deposit account assigned to an organizer.
type OrganizerAccount struct {
	OrganizerID      string     `json:"organizer_id"`
	AccountReference string     `json:"account_reference"`
	AccountNumber    string     `json:"account_number"`
	AccountName      string     `json:"account_name"`
	BankName         string     `json:"bank_name"`
	BankCode         string     `json:"bank_code"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"created_at"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
}
