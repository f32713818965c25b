package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-payments/internal/gateway"
	"ticket-payments/internal/status"
	"ticket-payments/models"
)

func samplePayment(st status.Payment) *models.PaymentRecord {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	return &models.PaymentRecord{
		Reference:                  "PAY-1",
		VendorTransactionReference: "TXN-1",
		Email:                      "buyer@example.com",
		Amount:                     decimal.NewFromInt(5000),
		Status:                     st,
		CreatedAt:                  created,
		UpdatedAt:                  created,
	}
}

func TestSavePayment_PendingJoinsPendingSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	p := samplePayment(status.Pending)
	data, err := json.Marshal(p)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet("payment:PAY-1", data, recordTTL).SetVal("OK")
	mock.ExpectSet("payment:vendor:TXN-1", "PAY-1", recordTTL).SetVal("OK")
	mock.ExpectSAdd("payments:pending", "PAY-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.SavePayment(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePayment_TerminalLeavesPendingSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	p := samplePayment(status.Paid)
	p.VendorTransactionReference = ""
	data, err := json.Marshal(p)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet("payment:PAY-1", data, recordTTL).SetVal("OK")
	mock.ExpectSRem("payments:pending", "PAY-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.SavePayment(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPayment(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	p := samplePayment(status.Pending)
	data, err := json.Marshal(p)
	require.NoError(t, err)

	mock.ExpectGet("payment:PAY-1").SetVal(string(data))

	got, err := s.GetPayment(context.Background(), "PAY-1")

	require.NoError(t, err)
	assert.Equal(t, "PAY-1", got.Reference)
	assert.True(t, got.Amount.Equal(p.Amount))
	assert.Equal(t, status.Pending, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPayment_MissingIsNotFound(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)

	mock.ExpectGet("payment:PAY-404").RedisNil()

	_, err := s.GetPayment(context.Background(), "PAY-404")

	assert.ErrorIs(t, err, status.ErrRecordNotFound)
}

func TestGetPaymentByVendorReference(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	data, err := json.Marshal(samplePayment(status.Paid))
	require.NoError(t, err)

	mock.ExpectGet("payment:vendor:TXN-1").SetVal("PAY-1")
	mock.ExpectGet("payment:PAY-1").SetVal(string(data))

	got, err := s.GetPaymentByVendorReference(context.Background(), "TXN-1")

	require.NoError(t, err)
	assert.Equal(t, status.Paid, got.Status)

	mock.ExpectGet("payment:vendor:TXN-2").RedisNil()
	_, err = s.GetPaymentByVendorReference(context.Background(), "TXN-2")
	assert.ErrorIs(t, err, status.ErrRecordNotFound)
}

func TestSaveTransfer_TracksPending(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	tr := &models.TransferRecord{Reference: "WD-1", IdempotencyKey: "k", Amount: decimal.NewFromInt(100), Status: "PENDING"}
	data, err := json.Marshal(tr)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet("transfer:WD-1", data, recordTTL).SetVal("OK")
	mock.ExpectSAdd("transfers:pending", "WD-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.SaveTransfer(context.Background(), tr))

	tr.Status = "SUCCESS"
	data, err = json.Marshal(tr)
	require.NoError(t, err)
	mock.ExpectTxPipeline()
	mock.ExpectSet("transfer:WD-1", data, recordTTL).SetVal("OK")
	mock.ExpectSRem("transfers:pending", "WD-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.SaveTransfer(context.Background(), tr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingPayments(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)

	mock.ExpectSRandMemberN("payments:pending", 50).SetVal([]string{"PAY-1", "PAY-2"})

	refs, err := s.PendingPayments(context.Background(), 50)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PAY-1", "PAY-2"}, refs)
}

func TestMarkWebhookSeen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)

	mock.ExpectSetNX("webhook:seen:TXN-1", 1, webhookSeenTTL).SetVal(true)
	mock.ExpectSetNX("webhook:seen:TXN-1", 1, webhookSeenTTL).SetVal(false)

	first, err := s.MarkWebhookSeen(context.Background(), "TXN-1")
	require.NoError(t, err)
	second, err := s.MarkWebhookSeen(context.Background(), "TXN-1")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkWebhookSeen_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)

	mock.ExpectSetNX("webhook:seen:TXN-1", 1, webhookSeenTTL).SetErr(errors.New("connection refused"))

	_, err := s.MarkWebhookSeen(context.Background(), "TXN-1")

	assert.ErrorContains(t, err, "connection refused")
}

func TestReferenceFor_BindsOnceAndReuses(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	ctx := context.Background()

	mock.ExpectSetNX("idem:refund:intent-1", "REFUND-1|fp-a", time.Hour).SetVal(true)
	ref, fresh, err := s.ReferenceFor(ctx, "refund", "intent-1", "REFUND-1", "fp-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "REFUND-1", ref)
	assert.True(t, fresh)

	mock.ExpectSetNX("idem:refund:intent-1", "REFUND-2|fp-a", time.Hour).SetVal(false)
	mock.ExpectGet("idem:refund:intent-1").SetVal("REFUND-1|fp-a")
	ref, fresh, err = s.ReferenceFor(ctx, "refund", "intent-1", "REFUND-2", "fp-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "REFUND-1", ref)
	assert.False(t, fresh)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferenceFor_KeyReusedForDifferentRequest(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)

	mock.ExpectSetNX("idem:withdrawal:intent-1", "WD-2|fp-b", time.Hour).SetVal(false)
	mock.ExpectGet("idem:withdrawal:intent-1").SetVal("WD-1|fp-a")

	_, _, err := s.ReferenceFor(context.Background(), "withdrawal", "intent-1", "WD-2", "fp-b", time.Hour)

	assert.ErrorIs(t, err, status.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePaymentIfOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	ctx := context.Background()
	keys := []string{"payment:PAY-1", "payment:vendor:TXN-1", "payments:pending"}

	paid := samplePayment(status.Paid)
	data, err := json.Marshal(paid)
	require.NoError(t, err)
	mock.ExpectEval(saveOpenPaymentScript, keys,
		string(data), recordTTL.Milliseconds(), "TXN-1", "PAY-1", "1").SetVal(int64(1))

	written, err := s.SavePaymentIfOpen(ctx, paid)
	require.NoError(t, err)
	assert.True(t, written)

	stale := samplePayment(status.Pending)
	data, err = json.Marshal(stale)
	require.NoError(t, err)
	mock.ExpectEval(saveOpenPaymentScript, keys,
		string(data), recordTTL.Milliseconds(), "TXN-1", "PAY-1", "0").SetVal(int64(0))

	written, err = s.SavePaymentIfOpen(ctx, stale)
	require.NoError(t, err)
	assert.False(t, written)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePaymentIfOpen_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)

	p := samplePayment(status.Paid)
	data, err := json.Marshal(p)
	require.NoError(t, err)
	mock.ExpectEval(saveOpenPaymentScript, []string{"payment:PAY-1", "payment:vendor:TXN-1", "payments:pending"},
		string(data), recordTTL.Milliseconds(), "TXN-1", "PAY-1", "1").SetErr(errors.New("connection refused"))

	_, err = s.SavePaymentIfOpen(context.Background(), p)

	assert.ErrorContains(t, err, "connection refused")
}

func TestDropPendingPayment(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)

	mock.ExpectSRem("payments:pending", "PAY-gone").SetVal(1)

	require.NoError(t, s.DropPendingPayment(context.Background(), "PAY-gone"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedBanks(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	ctx := context.Background()

	mock.ExpectGet("banks:list").RedisNil()
	_, ok, err := s.CachedBanks(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	banks := []gateway.Bank{{Name: "GTBank", Code: "058"}}
	data, err := json.Marshal(banks)
	require.NoError(t, err)

	mock.ExpectSet("banks:list", data, 24*time.Hour).SetVal("OK")
	require.NoError(t, s.CacheBanks(ctx, banks, 24*time.Hour))

	mock.ExpectGet("banks:list").SetVal(string(data))
	got, ok, err := s.CachedBanks(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, banks, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizerAccount(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := New(db)
	ctx := context.Background()
	acct := &models.OrganizerAccount{OrganizerID: "org-1", AccountNumber: "5000000001", Active: true}
	data, err := json.Marshal(acct)
	require.NoError(t, err)

	mock.ExpectSet("organizer:account:org-1", data, 0).SetVal("OK")
	require.NoError(t, s.SaveOrganizerAccount(ctx, acct))

	mock.ExpectGet("organizer:account:org-1").SetVal(string(data))
	got, err := s.GetOrganizerAccount(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "5000000001", got.AccountNumber)
	assert.True(t, got.Active)
}
