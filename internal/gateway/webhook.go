package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"ticket-payments/monitoring"
)

// WebhookPayload is an inbound transaction notification. Nothing in it is
// trusted until Verify succeeds.
type WebhookPayload struct {
	PaymentReference           string      `json:"paymentReference"`
	AmountPaid                 json.Number `json:"amountPaid"`
	PaidOn                     string      `json:"paidOn"`
	VendorTransactionReference string      `json:"transactionReference"`
	PaymentStatus              string      `json:"paymentStatus"`
	ProvidedDigest             string      `json:"transactionHash"`
}

type WebhookVerifier struct {
	secret string
	logger *slog.Logger
}

func NewWebhookVerifier(secret string, logger *slog.Logger) *WebhookVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookVerifier{secret: secret, logger: logger}
}

// Digest is the lowercase hex SHA-512 of the pipe-joined secret and fields.
func Digest(secret, paymentReference, amountPaid, paidOn, vendorTransactionReference string) string {
	sum := sha512.Sum512([]byte(strings.Join([]string{
		secret, paymentReference, amountPaid, paidOn, vendorTransactionReference,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether providedDigest authenticates the notification. It
// never errors; every failure is false.
func (v *WebhookVerifier) Verify(paymentReference, amountPaid, paidOn, vendorTransactionReference, providedDigest string) bool {
	if v.secret == "" {
		v.logger.Warn("SECURITY: webhook secret is not configured; rejecting notification",
			"reference", paymentReference)
		monitoring.TrackWebhookVerification("unconfigured")
		return false
	}
	if providedDigest == "" {
		monitoring.TrackWebhookVerification("missing_digest")
		return false
	}

	expected := Digest(v.secret, paymentReference, amountPaid, paidOn, vendorTransactionReference)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(providedDigest)) != 1 {
		v.logger.Warn("webhook digest mismatch", "reference", paymentReference)
		monitoring.TrackWebhookVerification("rejected")
		return false
	}

	monitoring.TrackWebhookVerification("verified")
	return true
}

// VerifyPayload is Verify over a decoded payload. A non-empty header digest
// takes precedence over the one in the body.
func (v *WebhookVerifier) VerifyPayload(p WebhookPayload, headerDigest string) bool {
	digest := p.ProvidedDigest
	if headerDigest != "" {
		digest = headerDigest
	}
	return v.Verify(p.PaymentReference, p.AmountPaid.String(), p.PaidOn, p.VendorTransactionReference, digest)
}
