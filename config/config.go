package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ticket-payments/internal/gateway"
)

type Config struct {
	// Server configuration
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"ENVIRONMENT"`

	// Redis configuration
	RedisURL string `mapstructure:"REDIS_URL"`

	// PubNub configuration
	PubNubPublishKey   string `mapstructure:"PUBNUB_PUBLISH_KEY"`
	PubNubSubscribeKey string `mapstructure:"PUBNUB_SUBSCRIBE_KEY"`
	PubNubSecretKey    string `mapstructure:"PUBNUB_SECRET_KEY"`
	PubNubUserID       string `mapstructure:"PUBNUB_USER_ID"`

	// RabbitMQ configuration
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`

	// Monitoring
	EnableMetrics bool   `mapstructure:"ENABLE_METRICS"`
	MetricsPort   string `mapstructure:"METRICS_PORT"`

	// Operator access
	OperatorKeyHash    string `mapstructure:"OPERATOR_KEY_HASH"` // bcrypt
	RateLimitPerMinute int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	// Background work and caching
	ReconcileSchedule string        `mapstructure:"RECONCILE_SCHEDULE"`
	BankListTTL       time.Duration `mapstructure:"BANK_LIST_TTL"`
	IdempotencyTTL    time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	// Payment gateway
	GatewayBaseURL                    string        `mapstructure:"GATEWAY_BASE_URL"`
	GatewayAPIKey                     string        `mapstructure:"GATEWAY_API_KEY"`
	GatewaySecretKey                  string        `mapstructure:"GATEWAY_SECRET_KEY"`
	GatewayContractCode               string        `mapstructure:"GATEWAY_CONTRACT_CODE"`
	GatewayIdentityNumber             string        `mapstructure:"GATEWAY_IDENTITY_NUMBER"`
	GatewayBusinessVerificationNumber string        `mapstructure:"GATEWAY_BUSINESS_VERIFICATION_NUMBER"`
	GatewayWalletAccountNumber        string        `mapstructure:"GATEWAY_WALLET_ACCOUNT_NUMBER"`
	GatewayRedirectBaseURL            string        `mapstructure:"GATEWAY_REDIRECT_BASE_URL"`
	GatewayWebhookSecret              string        `mapstructure:"GATEWAY_WEBHOOK_SECRET"`
	GatewayMinimumAmountRaw           string        `mapstructure:"GATEWAY_MINIMUM_AMOUNT"`
	GatewayCurrency                   string        `mapstructure:"GATEWAY_CURRENCY"`
	GatewayRequestTimeout             time.Duration `mapstructure:"GATEWAY_REQUEST_TIMEOUT"`
	GatewayTokenSafetyBuffer          time.Duration `mapstructure:"GATEWAY_TOKEN_SAFETY_BUFFER"`

	GatewayMinimumAmount decimal.Decimal `mapstructure:"-"`
}

var defaults = map[string]any{
	"PORT":                  "8090",
	"ENVIRONMENT":           "development",
	"REDIS_URL":             "localhost:6379",
	"PUBNUB_PUBLISH_KEY":    "",
	"PUBNUB_SUBSCRIBE_KEY":  "",
	"PUBNUB_SECRET_KEY":     "",
	"PUBNUB_USER_ID":        "ticket-payments",
	"RABBITMQ_URL":          "",
	"EVENTS_EXCHANGE":       "payment_events",
	"ENABLE_METRICS":        true,
	"METRICS_PORT":          "9090",
	"OPERATOR_KEY_HASH":     "",
	"RATE_LIMIT_PER_MINUTE": 30,
	"RECONCILE_SCHEDULE":    "@every 2m",
	"BANK_LIST_TTL":         "24h",
	"IDEMPOTENCY_TTL":       "24h",

	"GATEWAY_BASE_URL":                     "https://sandbox.monnify.com",
	"GATEWAY_API_KEY":                      "",
	"GATEWAY_SECRET_KEY":                   "",
	"GATEWAY_CONTRACT_CODE":                "",
	"GATEWAY_IDENTITY_NUMBER":              "",
	"GATEWAY_BUSINESS_VERIFICATION_NUMBER": "",
	"GATEWAY_WALLET_ACCOUNT_NUMBER":        "",
	"GATEWAY_REDIRECT_BASE_URL":            "http://localhost:3000",
	"GATEWAY_WEBHOOK_SECRET":               "",
	"GATEWAY_MINIMUM_AMOUNT":               "100",
	"GATEWAY_CURRENCY":                     "NGN",
	"GATEWAY_REQUEST_TIMEOUT":              "15s",
	"GATEWAY_TOKEN_SAFETY_BUFFER":          "60s",
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	raw := strings.TrimSpace(cfg.GatewayMinimumAmountRaw)
	if raw != "" {
		min, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("GATEWAY_MINIMUM_AMOUNT %q: %w", raw, err)
		}
		if min.IsNegative() {
			return nil, fmt.Errorf("GATEWAY_MINIMUM_AMOUNT must not be negative")
		}
		cfg.GatewayMinimumAmount = min
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}

	return &cfg, nil
}

// Gateway returns the processor client configuration.
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		BaseURL:                    c.GatewayBaseURL,
		APIKey:                     c.GatewayAPIKey,
		SecretKey:                  c.GatewaySecretKey,
		ContractCode:               c.GatewayContractCode,
		IdentityNumber:             c.GatewayIdentityNumber,
		BusinessVerificationNumber: c.GatewayBusinessVerificationNumber,
		WalletAccountNumber:        c.GatewayWalletAccountNumber,
		RedirectBaseURL:            c.GatewayRedirectBaseURL,
		WebhookSecret:              c.GatewayWebhookSecret,
		Currency:                   c.GatewayCurrency,
		MinimumAmount:              c.GatewayMinimumAmount,
		RequestTimeout:             c.GatewayRequestTimeout,
		TokenSafetyBuffer:          c.GatewayTokenSafetyBuffer,
	}
}

// Warnings lists gaps that do not stop startup but disable or weaken a
// feature.
func (c *Config) Warnings() []string {
	var w []string
	if c.GatewayAPIKey == "" || c.GatewaySecretKey == "" {
		w = append(w, "GATEWAY_API_KEY/GATEWAY_SECRET_KEY not set; gateway calls will fail")
	}
	if c.GatewayIdentityNumber == "" && c.GatewayBusinessVerificationNumber == "" {
		w = append(w, "no verification identifier configured; organizer account creation may be rejected")
	}
	if c.GatewayWebhookSecret == "" {
		w = append(w, "GATEWAY_WEBHOOK_SECRET not set; every webhook will be rejected")
	}
	if c.GatewayWalletAccountNumber == "" {
		w = append(w, "GATEWAY_WALLET_ACCOUNT_NUMBER not set; withdrawals are disabled")
	}
	if c.OperatorKeyHash == "" {
		w = append(w, "OPERATOR_KEY_HASH not set; operator routes will refuse every request")
	}
	return w
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
