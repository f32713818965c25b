package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticket-payments/internal/status"
	"ticket-payments/utils"
)

type Metadata struct {
	CustomerName string
	Description  string
}

type InitializeRequest struct {
	Email     string
	Amount    decimal.Decimal
	Reference string
	Metadata  Metadata
}

type InitializeResult struct {
	VendorTransactionReference string `json:"vendorTransactionReference"`
	Reference                  string `json:"reference"`
	CheckoutURL                string `json:"checkoutUrl"`
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Verification is a point-in-time read of a transaction. RawStatus keeps the
// processor's own vocabulary.
type Verification struct {
	Reference                  string          `json:"reference"`
	VendorTransactionReference string          `json:"vendorTransactionReference"`
	Status                     status.Payment  `json:"status"`
	RawStatus                  string          `json:"rawStatus"`
	Amount                     decimal.Decimal `json:"amount"`
	PaidAt                     *time.Time      `json:"paidAt,omitempty"`
	Method                     string          `json:"method"`
	Customer                   Customer        `json:"customer"`
}

type RefundRequest struct {
	// Reference is minted when empty.
	Reference                  string
	VendorTransactionReference string
	// Amount nil means a full refund.
	Amount       *decimal.Decimal
	Reason       string
	CustomerNote string
}

type RefundResult struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
}

type initTransactionPayload struct {
	Amount             json.Number `json:"amount"`
	CustomerName       string      `json:"customerName"`
	CustomerEmail      string      `json:"customerEmail"`
	PaymentReference   string      `json:"paymentReference"`
	PaymentDescription string      `json:"paymentDescription"`
	CurrencyCode       string      `json:"currencyCode"`
	ContractCode       string      `json:"contractCode"`
	RedirectURL        string      `json:"redirectUrl"`
	PaymentMethods     []string    `json:"paymentMethods"`
}

type initTransactionReply struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

type transactionReply struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	PaidOn               string          `json:"paidOn"`
	PaymentStatus        string          `json:"paymentStatus"`
	PaymentMethod        string          `json:"paymentMethod"`
	Customer             Customer        `json:"customer"`
}

type refundPayload struct {
	TransactionReference string       `json:"transactionReference"`
	RefundReference      string       `json:"refundReference"`
	RefundAmount         *json.Number `json:"refundAmount,omitempty"`
	RefundReason         string       `json:"refundReason"`
	CustomerNote         string       `json:"customerNote,omitempty"`
}

type refundReply struct {
	RefundReference string          `json:"refundReference"`
	RefundStatus    string          `json:"refundStatus"`
	RefundAmount    decimal.Decimal `json:"refundAmount"`
}

// InitializeTransaction creates a checkout session for a ticket purchase.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	const op = "transactions.initialize"

	amount, err := EnforceMinimum(req.Amount, c.cfg.MinimumAmount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, status.Validation(op, "payment reference is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		return nil, status.Validation(op, "customer email is required")
	}
	if c.cfg.ContractCode == "" {
		return nil, status.Configuration(op, "payment contract code is not configured")
	}

	name := SanitizeName(req.Metadata.CustomerName, 50)
	if name == "" {
		name = "Ticket Buyer"
	}
	description := SanitizeText(req.Metadata.Description, 100)
	if description == "" {
		description = "Ticket purchase"
	}

	payload := initTransactionPayload{
		Amount:             json.Number(amount.StringFixed(2)),
		CustomerName:       name,
		CustomerEmail:      strings.TrimSpace(req.Email),
		PaymentReference:   req.Reference,
		PaymentDescription: description,
		CurrencyCode:       c.cfg.Currency,
		ContractCode:       c.cfg.ContractCode,
		RedirectURL:        c.redirectURL(req.Reference),
		PaymentMethods:     []string{"CARD", "ACCOUNT_TRANSFER"},
	}

	var reply initTransactionReply
	if err := c.do(ctx, op, transactionRules, http.MethodPost, "/api/v1/merchant/transactions/init-transaction", nil, payload, &reply); err != nil {
		return nil, err
	}
	if reply.CheckoutURL == "" {
		c.logger.Warn("initialize reply carried no checkout url", "reference", req.Reference)
		return nil, &status.Error{Kind: status.ErrGateway, Op: op, Message: "payment checkout link was not returned"}
	}

	ref := reply.PaymentReference
	if ref == "" {
		ref = req.Reference
	}
	return &InitializeResult{
		VendorTransactionReference: reply.TransactionReference,
		Reference:                  ref,
		CheckoutURL:                reply.CheckoutURL,
	}, nil
}

func (c *Client) redirectURL(reference string) string {
	return c.cfg.RedirectBaseURL + "/payments/callback?reference=" + url.QueryEscape(reference)
}

// VerifyTransaction reads the current status of a transaction. When the
// primary lookup fails and fallbackReference is set and different, the lookup
// is retried once with it and the second result wins.
func (c *Client) VerifyTransaction(ctx context.Context, reference, fallbackReference string) (*Verification, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, status.Validation("transactions.verify", "transaction reference is required")
	}

	v, err := c.verifyOnce(ctx, reference)
	if err == nil {
		return v, nil
	}
	if fallbackReference == "" || fallbackReference == reference || !fallbackEligible(err) {
		return nil, err
	}

	c.logger.Info("retrying verification with fallback reference",
		"reference", reference, "fallback", fallbackReference, "error", err)
	return c.verifyOnce(ctx, fallbackReference)
}

func fallbackEligible(err error) bool {
	return errors.Is(err, status.ErrGateway) || errors.Is(err, status.ErrTransport)
}

func (c *Client) verifyOnce(ctx context.Context, reference string) (*Verification, error) {
	const op = "transactions.verify"

	var reply transactionReply
	if err := c.do(ctx, op, nil, http.MethodGet, "/api/v2/transactions/"+url.PathEscape(reference), nil, nil, &reply); err != nil {
		return nil, err
	}

	v := &Verification{
		Reference:                  reply.PaymentReference,
		VendorTransactionReference: reply.TransactionReference,
		Status:                     status.Normalize(reply.PaymentStatus),
		RawStatus:                  reply.PaymentStatus,
		Amount:                     reply.AmountPaid,
		PaidAt:                     parsePaidOn(reply.PaidOn),
		Method:                     reply.PaymentMethod,
		Customer:                   reply.Customer,
	}
	if v.Amount.IsZero() {
		v.Amount = reply.TotalPayable
	}
	return v, nil
}

var paidOnLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"02/01/2006 03:04:05 PM",
}

func parsePaidOn(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range paidOnLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// RefundTransaction asks the processor to reverse a settled charge.
func (c *Client) RefundTransaction(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	const op = "transactions.refund"

	if strings.TrimSpace(req.VendorTransactionReference) == "" {
		return nil, status.Validation(op, "transaction reference is required")
	}

	ref := req.Reference
	if ref == "" {
		minted, err := utils.TimestampedReference("REFUND", c.now())
		if err != nil {
			return nil, err
		}
		ref = minted
	}

	payload := refundPayload{
		TransactionReference: req.VendorTransactionReference,
		RefundReference:      ref,
		RefundReason:         SanitizeText(req.Reason, 64),
		CustomerNote:         SanitizeText(req.CustomerNote, 64),
	}
	if payload.RefundReason == "" {
		payload.RefundReason = "Ticket refund"
	}
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, status.Validation(op, "refund amount must be greater than zero")
		}
		n := json.Number(RoundAmount(*req.Amount).StringFixed(2))
		payload.RefundAmount = &n
	}

	var reply refundReply
	if err := c.do(ctx, op, refundRules, http.MethodPost, "/api/v1/refunds/initiate-refund", nil, payload, &reply); err != nil {
		return nil, err
	}

	out := &RefundResult{Reference: reply.RefundReference, Status: reply.RefundStatus, Amount: reply.RefundAmount}
	if out.Reference == "" {
		out.Reference = ref
	}
	return out, nil
}
