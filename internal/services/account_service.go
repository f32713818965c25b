package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-payments/internal/gateway"
	"ticket-payments/internal/status"
	"ticket-payments/models"
)

type AccountGateway interface {
	CreateVirtualAccount(ctx context.Context, organizerID, organizerName, organizerEmail string) (*gateway.VirtualAccount, error)
	DeactivateVirtualAccount(ctx context.Context, accountReference string) (bool, error)
}

type AccountStore interface {
	SaveOrganizerAccount(ctx context.Context, a *models.OrganizerAccount) error
	GetOrganizerAccount(ctx context.Context, organizerID string) (*models.OrganizerAccount, error)
}

// AccountService provisions organizer deposit accounts.
type AccountService struct {
	gateway AccountGateway
	store   AccountStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewAccountService(gw AccountGateway, store AccountStore, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{gateway: gw, store: store, logger: logger, now: time.Now}
}

// Provision returns the organizer's active account, creating one if needed.
func (s *AccountService) Provision(ctx context.Context, organizerID, name, email string) (*models.OrganizerAccount, error) {
	existing, err := s.store.GetOrganizerAccount(ctx, organizerID)
	switch {
	case err == nil && existing.Active:
		return existing, nil
	case err != nil && !errors.Is(err, status.ErrRecordNotFound):
		return nil, err
	}

	va, err := s.gateway.CreateVirtualAccount(ctx, organizerID, name, email)
	if err != nil {
		return nil, err
	}

	acct := &models.OrganizerAccount{
		OrganizerID:      organizerID,
		AccountReference: va.AccountReference,
		AccountNumber:    va.AccountNumber,
		AccountName:      va.AccountName,
		BankName:         va.BankName,
		BankCode:         va.BankCode,
		Active:           true,
		CreatedAt:        s.now(),
	}
	if err := s.store.SaveOrganizerAccount(ctx, acct); err != nil {
		return nil, err
	}
	s.logger.Info("organizer account provisioned", "organizer", organizerID, "account_reference", acct.AccountReference, "bank", acct.BankName)
	return acct, nil
}

func (s *AccountService) Deactivate(ctx context.Context, organizerID string) (*models.OrganizerAccount, error) {
	acct, err := s.store.GetOrganizerAccount(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	if !acct.Active {
		return acct, nil
	}

	ok, err := s.gateway.DeactivateVirtualAccount(ctx, acct.AccountReference)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &status.Error{
			Kind:    status.ErrGateway,
			Op:      "accounts.deactivate",
			Message: "account deactivation was not confirmed",
			Err:     fmt.Errorf("processor declined deactivation of %s", acct.AccountReference),
		}
	}

	at := s.now()
	acct.Active = false
	acct.DeactivatedAt = &at
	if err := s.store.SaveOrganizerAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}
