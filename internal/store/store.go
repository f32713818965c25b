// Package store keeps the minimal payment state needed to drive gateway calls
// in redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-payments/internal/gateway"
	"ticket-payments/internal/status"
	"ticket-payments/models"
)

const (
	keyPaymentPrefix   = "payment:"
	keyPaymentVendor   = "payment:vendor:"
	keyPendingPayments = "payments:pending"
	keyTransferPrefix  = "transfer:"
	keyPendingTransfer = "transfers:pending"
	keyRefundPrefix    = "refund:"
	keyWebhookSeen     = "webhook:seen:"
	keyIdempotency     = "idem:"
	keyBankList        = "banks:list"
	keyOrganizerAcct   = "organizer:account:"

	recordTTL      = 90 * 24 * time.Hour
	webhookSeenTTL = 72 * time.Hour

	bindingSep = "|"
)

// saveOpenPaymentScript writes a payment record unless the stored one is
// already paid or failed. Returns 1 when written, 0 when left untouched.
//
// KEYS: payment record, vendor reference index, pending set
// ARGV: record json, ttl ms, vendor reference, reference, terminal flag
const saveOpenPaymentScript = `
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, rec = pcall(cjson.decode, cur)
	if ok and type(rec) == 'table' and (rec.status == 'paid' or rec.status == 'failed') then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
if ARGV[3] ~= '' then
	redis.call('SET', KEYS[2], ARGV[4], 'PX', ARGV[2])
end
if ARGV[5] == '1' then
	redis.call('SREM', KEYS[3], ARGV[4])
else
	redis.call('SADD', KEYS[3], ARGV[4])
end
return 1
`

type Store struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

// Payments

// SavePayment writes the record and keeps the pending set in step with its
// status.
func (s *Store) SavePayment(ctx context.Context, p *models.PaymentRecord) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payment %s: %w", p.Reference, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPaymentPrefix+p.Reference, data, recordTTL)
		if p.VendorTransactionReference != "" {
			pipe.Set(ctx, keyPaymentVendor+p.VendorTransactionReference, p.Reference, recordTTL)
		}
		if p.Status.Terminal() {
			pipe.SRem(ctx, keyPendingPayments, p.Reference)
		} else {
			pipe.SAdd(ctx, keyPendingPayments, p.Reference)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save payment %s: %w", p.Reference, err)
	}
	return nil
}

// SavePaymentIfOpen is SavePayment for records that may race with another
// confirmation. The write happens atomically and only while the stored record
// is not terminal; written is false when another caller settled it first.
func (s *Store) SavePaymentIfOpen(ctx context.Context, p *models.PaymentRecord) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshal payment %s: %w", p.Reference, err)
	}

	terminal := "0"
	if p.Status.Terminal() {
		terminal = "1"
	}
	keys := []string{
		keyPaymentPrefix + p.Reference,
		keyPaymentVendor + p.VendorTransactionReference,
		keyPendingPayments,
	}
	n, err := s.rdb.Eval(ctx, saveOpenPaymentScript, keys,
		string(data), recordTTL.Milliseconds(), p.VendorTransactionReference, p.Reference, terminal).Int()
	if err != nil {
		return false, fmt.Errorf("save payment %s: %w", p.Reference, err)
	}
	return n == 1, nil
}

func (s *Store) GetPayment(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	if err := s.getJSON(ctx, keyPaymentPrefix+reference, &p); err != nil {
		return nil, fmt.Errorf("get payment %s: %w", reference, err)
	}
	return &p, nil
}

// GetPaymentByVendorReference resolves a processor transaction reference.
func (s *Store) GetPaymentByVendorReference(ctx context.Context, vendorRef string) (*models.PaymentRecord, error) {
	ref, err := s.rdb.Get(ctx, keyPaymentVendor+vendorRef).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payment by vendor reference %s: %w", vendorRef, status.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by vendor reference %s: %w", vendorRef, err)
	}
	return s.GetPayment(ctx, ref)
}

// PendingPayments returns up to limit references awaiting settlement.
func (s *Store) PendingPayments(ctx context.Context, limit int64) ([]string, error) {
	return s.members(ctx, keyPendingPayments, limit)
}

// DropPendingPayment removes a reference from the pending set, for members
// whose record has expired.
func (s *Store) DropPendingPayment(ctx context.Context, reference string) error {
	if err := s.rdb.SRem(ctx, keyPendingPayments, reference).Err(); err != nil {
		return fmt.Errorf("drop pending payment %s: %w", reference, err)
	}
	return nil
}

// Transfers

func (s *Store) SaveTransfer(ctx context.Context, t *models.TransferRecord) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transfer %s: %w", t.Reference, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyTransferPrefix+t.Reference, data, recordTTL)
		if gateway.TransferTerminal(t.Status) {
			pipe.SRem(ctx, keyPendingTransfer, t.Reference)
		} else {
			pipe.SAdd(ctx, keyPendingTransfer, t.Reference)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save transfer %s: %w", t.Reference, err)
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, reference string) (*models.TransferRecord, error) {
	var t models.TransferRecord
	if err := s.getJSON(ctx, keyTransferPrefix+reference, &t); err != nil {
		return nil, fmt.Errorf("get transfer %s: %w", reference, err)
	}
	return &t, nil
}

func (s *Store) PendingTransfers(ctx context.Context, limit int64) ([]string, error) {
	return s.members(ctx, keyPendingTransfer, limit)
}

// Refunds

func (s *Store) SaveRefund(ctx context.Context, r *models.RefundRecord) error {
	return s.setJSON(ctx, keyRefundPrefix+r.Reference, r, recordTTL)
}

func (s *Store) GetRefund(ctx context.Context, reference string) (*models.RefundRecord, error) {
	var r models.RefundRecord
	if err := s.getJSON(ctx, keyRefundPrefix+reference, &r); err != nil {
		return nil, fmt.Errorf("get refund %s: %w", reference, err)
	}
	return &r, nil
}

// Webhooks

// MarkWebhookSeen records a processed notification. It returns false when the
// same vendor reference was already marked.
func (s *Store) MarkWebhookSeen(ctx context.Context, vendorRef string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyWebhookSeen+vendorRef, 1, webhookSeenTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark webhook %s: %w", vendorRef, err)
	}
	return ok, nil
}

// ForgetWebhook clears the marker so a notification that failed processing can
// be delivered again.
func (s *Store) ForgetWebhook(ctx context.Context, vendorRef string) error {
	return s.rdb.Del(ctx, keyWebhookSeen+vendorRef).Err()
}

// Idempotency

// ReferenceFor returns the reference bound to key within scope, binding
// candidate if none exists yet. The returned flag is true when candidate won.
// fingerprint identifies the request the key was first used for; reusing the
// key for a different request is a validation error.
func (s *Store) ReferenceFor(ctx context.Context, scope, key, candidate, fingerprint string, ttl time.Duration) (string, bool, error) {
	k := keyIdempotency + scope + ":" + key
	ok, err := s.rdb.SetNX(ctx, k, candidate+bindingSep+fingerprint, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("bind idempotency key %s: %w", key, err)
	}
	if ok {
		return candidate, true, nil
	}

	existing, err := s.rdb.Get(ctx, k).Result()
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key %s: %w", key, err)
	}
	ref, bound, _ := strings.Cut(existing, bindingSep)
	if bound != "" && bound != fingerprint {
		return "", false, status.Validation(scope, "idempotency key was already used for a different request")
	}
	return ref, false, nil
}

// Banks

// CachedBanks returns the cached directory; ok is false on a miss.
func (s *Store) CachedBanks(ctx context.Context) ([]gateway.Bank, bool, error) {
	var banks []gateway.Bank
	err := s.getJSON(ctx, keyBankList, &banks)
	if errors.Is(err, status.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get bank list: %w", err)
	}
	return banks, true, nil
}

func (s *Store) CacheBanks(ctx context.Context, banks []gateway.Bank, ttl time.Duration) error {
	return s.setJSON(ctx, keyBankList, banks, ttl)
}

// Organizer accounts

func (s *Store) SaveOrganizerAccount(ctx context.Context, a *models.OrganizerAccount) error {
	return s.setJSON(ctx, keyOrganizerAcct+a.OrganizerID, a, 0)
}

func (s *Store) GetOrganizerAccount(ctx context.Context, organizerID string) (*models.OrganizerAccount, error) {
	var a models.OrganizerAccount
	if err := s.getJSON(ctx, keyOrganizerAcct+organizerID, &a); err != nil {
		return nil, fmt.Errorf("get organizer account %s: %w", organizerID, err)
	}
	return &a, nil
}

func (s *Store) members(ctx context.Context, key string, limit int64) ([]string, error) {
	refs, err := s.rdb.SRandMemberN(ctx, key, limit).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}
	return refs, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// getJSON maps a missing key to status.ErrRecordNotFound.
func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return status.ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
