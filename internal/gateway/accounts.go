package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"ticket-payments/internal/status"
)

const defaultOrganizerName = "Event Organizer"

// VirtualAccount is a reserved deposit account assigned to an organizer.
type VirtualAccount struct {
	AccountNumber    string `json:"accountNumber"`
	AccountName      string `json:"accountName"`
	BankName         string `json:"bankName"`
	BankCode         string `json:"bankCode"`
	AccountReference string `json:"accountReference"`
}

type reservedAccountPayload struct {
	AccountReference     string `json:"accountReference"`
	AccountName          string `json:"accountName"`
	CurrencyCode         string `json:"currencyCode"`
	ContractCode         string `json:"contractCode"`
	CustomerEmail        string `json:"customerEmail"`
	CustomerName         string `json:"customerName"`
	BVN                  string `json:"bvn,omitempty"`
	NIN                  string `json:"nin,omitempty"`
	GetAllAvailableBanks bool   `json:"getAllAvailableBanks"`
}

type reservedAccountReply struct {
	AccountReference string `json:"accountReference"`
	AccountName      string `json:"accountName"`
	Accounts         []struct {
		BankCode      string `json:"bankCode"`
		BankName      string `json:"bankName"`
		AccountNumber string `json:"accountNumber"`
		AccountName   string `json:"accountName"`
	} `json:"accounts"`
}

// AccountReference builds the provisioning key for an organizer.
func (c *Client) AccountReference(organizerID string) string {
	return fmt.Sprintf("HD-ORG-%s-%d", organizerID, c.now().UnixMilli())
}

// CreateVirtualAccount reserves a deposit account for an organizer.
func (c *Client) CreateVirtualAccount(ctx context.Context, organizerID, organizerName, organizerEmail string) (*VirtualAccount, error) {
	const op = "accounts.create"

	organizerID = strings.TrimSpace(organizerID)
	organizerEmail = strings.TrimSpace(organizerEmail)
	if organizerID == "" {
		return nil, status.Validation(op, "organizer id is required")
	}
	if err := validation.Validate(organizerEmail, validation.Required, is.EmailFormat); err != nil {
		return nil, status.Validation(op, "organizer email is invalid")
	}
	if c.cfg.ContractCode == "" {
		return nil, status.Configuration(op, "payment contract code is not configured")
	}

	name := SanitizeName(organizerName, 50)
	if name == "" {
		name = defaultOrganizerName
	}

	payload := reservedAccountPayload{
		AccountReference:     c.AccountReference(organizerID),
		AccountName:          name,
		CurrencyCode:         c.cfg.Currency,
		ContractCode:         c.cfg.ContractCode,
		CustomerEmail:        organizerEmail,
		CustomerName:         name,
		BVN:                  c.cfg.BusinessVerificationNumber,
		NIN:                  c.cfg.IdentityNumber,
		GetAllAvailableBanks: true,
	}
	if payload.BVN == "" && payload.NIN == "" {
		c.logger.Warn("no verification identifier configured; processor may reject account creation",
			"organizer", organizerID)
	}

	var reply reservedAccountReply
	if err := c.do(ctx, op, accountRules, http.MethodPost, "/api/v2/bank-transfer/reserved-accounts", nil, payload, &reply); err != nil {
		return nil, err
	}
	if len(reply.Accounts) == 0 {
		c.logger.Warn("reserved account reply carried no accounts", "reference", payload.AccountReference)
		return nil, &status.Error{Kind: status.ErrGateway, Op: op, Message: "no account was returned for the organizer"}
	}

	first := reply.Accounts[0]
	ref := reply.AccountReference
	if ref == "" {
		ref = payload.AccountReference
	}
	accountName := first.AccountName
	if accountName == "" {
		accountName = reply.AccountName
	}
	return &VirtualAccount{
		AccountNumber:    first.AccountNumber,
		AccountName:      accountName,
		BankName:         first.BankName,
		BankCode:         first.BankCode,
		AccountReference: ref,
	}, nil
}

// DeactivateVirtualAccount deallocates a reserved account and reports the
// processor's own success flag.
func (c *Client) DeactivateVirtualAccount(ctx context.Context, accountReference string) (bool, error) {
	const op = "accounts.deactivate"

	if strings.TrimSpace(accountReference) == "" {
		return false, status.Validation(op, "account reference is required")
	}

	path := "/api/v1/bank-transfer/reserved-accounts/reference/" + url.PathEscape(accountReference)
	env, err := c.call(ctx, op, accountRules, http.MethodDelete, path, nil, nil)
	if err != nil {
		return false, err
	}
	if !env.RequestSuccessful {
		c.logger.Warn("account deactivation not confirmed",
			"reference", accountReference, "code", env.ResponseCode, "message", env.ResponseMessage)
	}
	return env.RequestSuccessful, nil
}
