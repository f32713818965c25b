package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"ticket-payments/internal/events"
	"ticket-payments/internal/gateway"
	"ticket-payments/internal/status"
	"ticket-payments/models"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockGateway stands in for *gateway.Client.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.InitializeResult)
	return res, args.Error(1)
}

func (m *mockGateway) VerifyTransaction(ctx context.Context, reference, fallback string) (*gateway.Verification, error) {
	args := m.Called(ctx, reference, fallback)
	res, _ := args.Get(0).(*gateway.Verification)
	return res, args.Error(1)
}

func (m *mockGateway) RefundTransaction(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.RefundResult)
	return res, args.Error(1)
}

func (m *mockGateway) ResolveAccountNumber(ctx context.Context, accountNumber, bankCode string) (*gateway.ResolvedAccount, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	res, _ := args.Get(0).(*gateway.ResolvedAccount)
	return res, args.Error(1)
}

func (m *mockGateway) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.TransferResult)
	return res, args.Error(1)
}

func (m *mockGateway) GetTransferStatus(ctx context.Context, reference string) (*gateway.TransferStatus, error) {
	args := m.Called(ctx, reference)
	res, _ := args.Get(0).(*gateway.TransferStatus)
	return res, args.Error(1)
}

func (m *mockGateway) CreateVirtualAccount(ctx context.Context, organizerID, name, email string) (*gateway.VirtualAccount, error) {
	args := m.Called(ctx, organizerID, name, email)
	res, _ := args.Get(0).(*gateway.VirtualAccount)
	return res, args.Error(1)
}

func (m *mockGateway) DeactivateVirtualAccount(ctx context.Context, accountReference string) (bool, error) {
	args := m.Called(ctx, accountReference)
	return args.Bool(0), args.Error(1)
}

func (m *mockGateway) ListBanks(ctx context.Context) ([]gateway.Bank, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]gateway.Bank)
	return res, args.Error(1)
}

// memStore is an in-memory version of *store.Store.
type memStore struct {
	mu        sync.Mutex
	payments  map[string]models.PaymentRecord
	vendor    map[string]string
	transfers map[string]models.TransferRecord
	refunds   map[string]models.RefundRecord
	seen      map[string]bool
	refs      map[string]string
	orphans   map[string]bool // pending references with no record
	accounts  map[string]models.OrganizerAccount
	banks     []gateway.Bank
	bankReads int
}

func newMemStore() *memStore {
	return &memStore{
		payments:  map[string]models.PaymentRecord{},
		vendor:    map[string]string{},
		transfers: map[string]models.TransferRecord{},
		refunds:   map[string]models.RefundRecord{},
		seen:      map[string]bool{},
		refs:      map[string]string{},
		orphans:   map[string]bool{},
		accounts:  map[string]models.OrganizerAccount{},
	}
}

func (s *memStore) SavePayment(_ context.Context, p *models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.Reference] = *p
	if p.VendorTransactionReference != "" {
		s.vendor[p.VendorTransactionReference] = p.Reference
	}
	return nil
}

func (s *memStore) SavePaymentIfOpen(_ context.Context, p *models.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.payments[p.Reference]; ok && cur.Status.Terminal() {
		return false, nil
	}
	s.payments[p.Reference] = *p
	if p.VendorTransactionReference != "" {
		s.vendor[p.VendorTransactionReference] = p.Reference
	}
	return true, nil
}

func (s *memStore) GetPayment(_ context.Context, reference string) (*models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return nil, status.ErrRecordNotFound
	}
	return &p, nil
}

func (s *memStore) GetPaymentByVendorReference(ctx context.Context, vendorRef string) (*models.PaymentRecord, error) {
	s.mu.Lock()
	ref, ok := s.vendor[vendorRef]
	s.mu.Unlock()
	if !ok {
		return nil, status.ErrRecordNotFound
	}
	return s.GetPayment(ctx, ref)
}

func (s *memStore) PendingPayments(_ context.Context, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []string
	for ref, p := range s.payments {
		if !p.Status.Terminal() {
			refs = append(refs, ref)
		}
	}
	for ref := range s.orphans {
		refs = append(refs, ref)
	}
	return limited(refs, limit), nil
}

func (s *memStore) DropPendingPayment(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orphans, reference)
	return nil
}

func (s *memStore) SaveTransfer(_ context.Context, t *models.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[t.Reference] = *t
	return nil
}

func (s *memStore) GetTransfer(_ context.Context, reference string) (*models.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[reference]
	if !ok {
		return nil, status.ErrRecordNotFound
	}
	return &t, nil
}

func (s *memStore) PendingTransfers(_ context.Context, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []string
	for ref, t := range s.transfers {
		if !gateway.TransferTerminal(t.Status) {
			refs = append(refs, ref)
		}
	}
	return limited(refs, limit), nil
}

func (s *memStore) SaveRefund(_ context.Context, r *models.RefundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunds[r.Reference] = *r
	return nil
}

func (s *memStore) GetRefund(_ context.Context, reference string) (*models.RefundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[reference]
	if !ok {
		return nil, status.ErrRecordNotFound
	}
	return &r, nil
}

func (s *memStore) MarkWebhookSeen(_ context.Context, vendorRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[vendorRef] {
		return false, nil
	}
	s.seen[vendorRef] = true
	return true, nil
}

func (s *memStore) ForgetWebhook(_ context.Context, vendorRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, vendorRef)
	return nil
}

func (s *memStore) ReferenceFor(_ context.Context, scope, key, candidate, fingerprint string, _ time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scope + ":" + key
	if existing, ok := s.refs[k]; ok {
		ref, bound, _ := strings.Cut(existing, "|")
		if bound != fingerprint {
			return "", false, status.Validation(scope, "idempotency key was already used for a different request")
		}
		return ref, false, nil
	}
	s.refs[k] = candidate + "|" + fingerprint
	return candidate, true, nil
}

func (s *memStore) CachedBanks(context.Context) ([]gateway.Bank, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bankReads++
	if s.banks == nil {
		return nil, false, nil
	}
	return s.banks, true, nil
}

func (s *memStore) CacheBanks(_ context.Context, banks []gateway.Bank, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banks = banks
	return nil
}

func (s *memStore) SaveOrganizerAccount(_ context.Context, a *models.OrganizerAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.OrganizerID] = *a
	return nil
}

func (s *memStore) GetOrganizerAccount(_ context.Context, organizerID string) (*models.OrganizerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[organizerID]
	if !ok {
		return nil, status.ErrRecordNotFound
	}
	return &a, nil
}

func limited(refs []string, limit int64) []string {
	sort.Strings(refs)
	if int64(len(refs)) > limit {
		refs = refs[:limit]
	}
	return refs
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
