// Package gateway talks to the payment processor: reserved accounts,
// checkout transactions, refunds, disbursements, the bank directory and
// webhook authentication.
package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticket-payments/utils"
)

const (
	defaultCurrency       = "NGN"
	defaultRequestTimeout = 15 * time.Second
	defaultSafetyBuffer   = 60 * time.Second
)

// Config holds the processor credentials and merchant settings.
type Config struct {
	BaseURL                    string
	APIKey                     string
	SecretKey                  string
	ContractCode               string
	IdentityNumber             string
	BusinessVerificationNumber string
	WalletAccountNumber        string
	RedirectBaseURL            string
	WebhookSecret              string
	Currency                   string
	MinimumAmount              decimal.Decimal
	RequestTimeout             time.Duration
	TokenSafetyBuffer          time.Duration
}

type Client struct {
	// cfg is the processor configuration with defaults applied.
	cfg Config

	// hc performs the round trips. Timeouts come from per-call contexts.
	hc *http.Client

	// tokens caches the bearer token.
	tokens *TokenManager

	// breaker short-circuits calls while the processor is failing.
	breaker *utils.CircuitBreaker

	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock replaces time.Now for the client and its token cache.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithBreaker(cb *utils.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New creates a processor client. No network call is made until the first
// operation.
func New(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.RedirectBaseURL = strings.TrimRight(cfg.RedirectBaseURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.TokenSafetyBuffer <= 0 {
		cfg.TokenSafetyBuffer = defaultSafetyBuffer
	}

	c := &Client{
		cfg:    cfg,
		hc:     &http.Client{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = utils.NewCircuitBreaker("payment-gateway", utils.WithBreakerClock(c.now))
	}
	c.tokens = NewTokenManager(c.login,
		WithSafetyBuffer(cfg.TokenSafetyBuffer),
		WithTokenClock(c.now),
	)
	return c
}

// Tokens exposes the token cache.
func (c *Client) Tokens() *TokenManager { return c.tokens }

// MinimumAmount is the smallest chargeable amount.
func (c *Client) MinimumAmount() decimal.Decimal { return c.cfg.MinimumAmount }
