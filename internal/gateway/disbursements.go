package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"ticket-payments/internal/status"
	"ticket-payments/utils"
)

type ResolvedAccount struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	BankCode      string `json:"bankCode"`
}

type TransferRequest struct {
	// Reference is minted when empty.
	Reference     string
	Amount        decimal.Decimal
	BankCode      string
	AccountNumber string
	AccountName   string
	Narration     string
}

type TransferResult struct {
	Reference   string          `json:"reference"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// TransferStatus is the processor's transfer summary. Status is opaque; Raw
// keeps the full body.
type TransferStatus struct {
	Reference              string          `json:"reference"`
	Status                 string          `json:"status"`
	Amount                 decimal.Decimal `json:"amount"`
	Fee                    decimal.Decimal `json:"fee"`
	DestinationAccountName string          `json:"destinationAccountName"`
	DestinationBankName    string          `json:"destinationBankName"`
	CompletedOn            string          `json:"completedOn"`
	Raw                    json.RawMessage `json:"raw"`
}

// TransferTerminal reports whether a transfer status will not change again.
func TransferTerminal(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "FAILED", "REVERSED", "EXPIRED", "CANCELLED":
		return true
	}
	return false
}

type transferPayload struct {
	Amount                   json.Number `json:"amount"`
	Reference                string      `json:"reference"`
	Narration                string      `json:"narration"`
	DestinationBankCode      string      `json:"destinationBankCode"`
	DestinationAccountNumber string      `json:"destinationAccountNumber"`
	DestinationAccountName   string      `json:"destinationAccountName,omitempty"`
	Currency                 string      `json:"currency"`
	SourceAccountNumber      string      `json:"sourceAccountNumber"`
}

type transferReply struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	TotalFee  decimal.Decimal `json:"totalFee"`
}

type transferSummaryReply struct {
	Amount                 decimal.Decimal `json:"amount"`
	Reference              string          `json:"reference"`
	Status                 string          `json:"status"`
	Fee                    decimal.Decimal `json:"fee"`
	DestinationAccountName string          `json:"destinationAccountName"`
	DestinationBankName    string          `json:"destinationBankName"`
	CompletedOn            string          `json:"transactionDate"`
}

func validAccountNumber(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ResolveAccountNumber looks up the registered holder name of a bank account.
// The result is advisory.
func (c *Client) ResolveAccountNumber(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	const op = "disbursements.resolve"

	accountNumber = strings.TrimSpace(accountNumber)
	bankCode = strings.TrimSpace(bankCode)
	if !validAccountNumber(accountNumber) {
		return nil, status.Validation(op, "account number must be 10 digits")
	}
	if bankCode == "" {
		return nil, status.Validation(op, "bank code is required")
	}

	payload := map[string]string{"accountNumber": accountNumber, "bankCode": bankCode}

	var reply ResolvedAccount
	if err := c.do(ctx, op, transferRules, http.MethodPost, "/api/v1/disbursements/account/validate", nil, payload, &reply); err != nil {
		return nil, err
	}
	if reply.AccountNumber == "" {
		reply.AccountNumber = accountNumber
	}
	if reply.BankCode == "" {
		reply.BankCode = bankCode
	}
	return &reply, nil
}

// InitiateTransfer pays out from the merchant wallet to a bank account.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	const op = "disbursements.transfer"

	if c.cfg.WalletAccountNumber == "" {
		return nil, status.Configuration(op, "disbursement wallet account is not configured")
	}
	// The checkout minimum does not apply to payouts.
	amount := RoundAmount(req.Amount)
	if !amount.IsPositive() {
		return nil, status.Validation(op, "transfer amount must be greater than zero")
	}
	if !validAccountNumber(strings.TrimSpace(req.AccountNumber)) {
		return nil, status.Validation(op, "account number must be 10 digits")
	}
	if strings.TrimSpace(req.BankCode) == "" {
		return nil, status.Validation(op, "bank code is required")
	}

	ref := req.Reference
	if ref == "" {
		minted, err := utils.TimestampedReference("WD", c.now())
		if err != nil {
			return nil, err
		}
		ref = minted
	}

	narration := SanitizeText(req.Narration, 100)
	if narration == "" {
		narration = "Organizer withdrawal"
	}

	payload := transferPayload{
		Amount:                   json.Number(amount.StringFixed(2)),
		Reference:                ref,
		Narration:                narration,
		DestinationBankCode:      strings.TrimSpace(req.BankCode),
		DestinationAccountNumber: strings.TrimSpace(req.AccountNumber),
		DestinationAccountName:   SanitizeName(req.AccountName, 100),
		Currency:                 c.cfg.Currency,
		SourceAccountNumber:      c.cfg.WalletAccountNumber,
	}

	var reply transferReply
	if err := c.do(ctx, op, transferRules, http.MethodPost, "/api/v2/disbursements/single", nil, payload, &reply); err != nil {
		return nil, err
	}

	out := &TransferResult{
		Reference: reply.Reference,
		Status:    reply.Status,
		Amount:    reply.Amount,
		Fee:       reply.TotalFee,
	}
	if out.Reference == "" {
		out.Reference = ref
	}
	if out.Amount.IsZero() {
		out.Amount = amount
	}
	out.TotalAmount = out.Amount.Add(out.Fee)
	return out, nil
}

// GetTransferStatus reads the processor's summary of a transfer.
func (c *Client) GetTransferStatus(ctx context.Context, reference string) (*TransferStatus, error) {
	const op = "disbursements.status"

	if strings.TrimSpace(reference) == "" {
		return nil, status.Validation(op, "transfer reference is required")
	}

	var raw json.RawMessage
	if err := c.do(ctx, op, transferRules, http.MethodGet, "/api/v2/disbursements/single/summary", url.Values{"reference": {reference}}, nil, &raw); err != nil {
		return nil, err
	}

	var reply transferSummaryReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, status.Transport(op, http.StatusOK, err)
	}

	out := &TransferStatus{
		Reference:              reply.Reference,
		Status:                 reply.Status,
		Amount:                 reply.Amount,
		Fee:                    reply.Fee,
		DestinationAccountName: reply.DestinationAccountName,
		DestinationBankName:    reply.DestinationBankName,
		CompletedOn:            reply.CompletedOn,
		Raw:                    raw,
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return out, nil
}
