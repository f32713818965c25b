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

type DisbursementGateway interface {
	ResolveAccountNumber(ctx context.Context, accountNumber, bankCode string) (*gateway.ResolvedAccount, error)
	InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error)
	GetTransferStatus(ctx context.Context, reference string) (*gateway.TransferStatus, error)
}

type TransferStore interface {
	ReferenceFor(ctx context.Context, scope, key, candidate, fingerprint string, ttl time.Duration) (string, bool, error)
	SaveTransfer(ctx context.Context, t *models.TransferRecord) error
	GetTransfer(ctx context.Context, reference string) (*models.TransferRecord, error)
}

type WithdrawalService struct {
	gateway DisbursementGateway
	store   TransferStore
	events  events.Publisher
	logger  *slog.Logger
	ttl     time.Duration
	now     func() time.Time
}

func NewWithdrawalService(gw DisbursementGateway, store TransferStore, pub events.Publisher, idempotencyTTL time.Duration, logger *slog.Logger) *WithdrawalService {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &WithdrawalService{gateway: gw, store: store, events: pub, logger: logger, ttl: idempotencyTTL, now: time.Now}
}

type WithdrawalRequest struct {
	IdempotencyKey string          `json:"-"`
	OrganizerID    string          `json:"organizer_id"`
	Amount         decimal.Decimal `json:"amount"`
	BankCode       string          `json:"bank_code"`
	AccountNumber  string          `json:"account_number"`
	AccountName    string          `json:"account_name"`
	Narration      string          `json:"narration"`
}

// Withdraw pays organizer earnings out to a bank account. The destination is
// resolved first and the processor's account name is used for the transfer.
func (s *WithdrawalService) Withdraw(ctx context.Context, req WithdrawalRequest) (*models.TransferRecord, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, status.Validation("withdrawal", "idempotency key is required")
	}

	resolved, err := s.gateway.ResolveAccountNumber(ctx, req.AccountNumber, req.BankCode)
	if err != nil {
		return nil, err
	}
	if req.AccountName != "" && !namesMatch(req.AccountName, resolved.AccountName) {
		s.logger.Warn("withdrawal account name differs from bank records",
			"organizer", req.OrganizerID, "given", req.AccountName, "resolved", resolved.AccountName)
	}

	candidate, err := utils.TimestampedReference("WD", s.now())
	if err != nil {
		return nil, err
	}
	ref, fresh, err := s.store.ReferenceFor(ctx, "withdrawal", key, candidate, withdrawalFingerprint(req), s.ttl)
	if err != nil {
		return nil, err
	}
	if !fresh {
		if existing, err := s.store.GetTransfer(ctx, ref); err == nil {
			return existing, nil
		}
	}

	res, err := s.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		Reference:     ref,
		Amount:        req.Amount,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   resolved.AccountName,
		Narration:     req.Narration,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &models.TransferRecord{
		Reference:          ref,
		IdempotencyKey:     key,
		OrganizerID:        req.OrganizerID,
		DestinationBank:    req.BankCode,
		DestinationAccount: req.AccountNumber,
		AccountName:        resolved.AccountName,
		Amount:             res.Amount,
		Fee:                res.Fee,
		Status:             res.Status,
		CreatedAt:          now,
		CheckedAt:          now,
	}
	if err := s.store.SaveTransfer(ctx, rec); err != nil {
		return nil, err
	}
	s.publish(ctx, rec, now)
	return rec, nil
}

// Status polls the processor and refreshes the stored transfer.
func (s *WithdrawalService) Status(ctx context.Context, reference string) (*models.TransferRecord, error) {
	st, err := s.gateway.GetTransferStatus(ctx, reference)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.GetTransfer(ctx, reference)
	if err != nil {
		if !errors.Is(err, status.ErrRecordNotFound) {
			return nil, err
		}
		rec = &models.TransferRecord{Reference: st.Reference, Amount: st.Amount, AccountName: st.DestinationAccountName}
	}

	now := s.now()
	changed := !strings.EqualFold(rec.Status, st.Status)
	rec.Status = st.Status
	rec.Fee = st.Fee
	rec.CheckedAt = now
	if err := s.store.SaveTransfer(ctx, rec); err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, rec, now)
	}
	return rec, nil
}

func (s *WithdrawalService) publish(ctx context.Context, rec *models.TransferRecord, at time.Time) {
	e := events.Event{Type: models.NotificationWithdrawal, Subject: rec.Reference, Payload: rec, OccurredAt: at}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Error("failed to publish withdrawal", "reference", rec.Reference, "error", err)
	}
}

func withdrawalFingerprint(req WithdrawalRequest) string {
	return utils.Fingerprint(
		strings.TrimSpace(req.OrganizerID),
		gateway.RoundAmount(req.Amount).StringFixed(2),
		strings.TrimSpace(req.BankCode),
		strings.TrimSpace(req.AccountNumber),
	)
}

// namesMatch reports whether any word of the given name appears in the
// resolved one. Banks reorder and abbreviate names freely.
func namesMatch(given, resolved string) bool {
	words := strings.Fields(strings.ToUpper(resolved))
	for _, g := range strings.Fields(strings.ToUpper(given)) {
		for _, w := range words {
			if g == w {
				return true
			}
		}
	}
	return false
}
