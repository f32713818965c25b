package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ticket-payments/internal/status"
	"ticket-payments/monitoring"
)

// AccessToken is a bearer credential with an absolute expiry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenFetcher exchanges credentials for a fresh token.
type TokenFetcher func(ctx context.Context) (AccessToken, error)

// TokenManager caches one access token and refreshes it shortly before it
// expires. Concurrent refreshes share a single exchange.
type TokenManager struct {
	fetch  TokenFetcher
	buffer time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	token *AccessToken

	group singleflight.Group
}

type TokenOption func(*TokenManager)

// WithSafetyBuffer sets how long before expiry a token stops being served.
func WithSafetyBuffer(d time.Duration) TokenOption {
	return func(m *TokenManager) { m.buffer = d }
}

func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

func NewTokenManager(fetch TokenFetcher, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		fetch:  fetch,
		buffer: defaultSafetyBuffer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsValid reports whether the cached token can still be served.
func (m *TokenManager) IsValid() bool {
	_, ok := m.cached()
	return ok
}

// GetValidToken returns the cached token or refreshes it.
func (m *TokenManager) GetValidToken(ctx context.Context) (AccessToken, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	return m.refresh(ctx, false)
}

// Refresh unconditionally exchanges credentials and replaces the cached token.
func (m *TokenManager) Refresh(ctx context.Context) (AccessToken, error) {
	return m.refresh(ctx, true)
}

// Invalidate drops the cached token so the next call refreshes.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

func (m *TokenManager) cached() (AccessToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return AccessToken{}, false
	}
	if !m.now().Before(m.token.ExpiresAt.Add(-m.buffer)) {
		return AccessToken{}, false
	}
	return *m.token, true
}

func (m *TokenManager) refresh(ctx context.Context, force bool) (AccessToken, error) {
	key := "lazy"
	if force {
		key = "force"
	}

	// Detached from caller cancellation; send bounds it with the request timeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		if !force {
			if tok, ok := m.cached(); ok {
				return tok, nil
			}
		}

		tok, err := m.fetch(flightCtx)
		if err != nil {
			monitoring.TrackTokenRefresh(monitoring.OutcomeError)
			return AccessToken{}, err
		}
		monitoring.TrackTokenRefresh(monitoring.OutcomeOK)

		m.mu.Lock()
		m.token = &tok
		m.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	case <-ctx.Done():
		return AccessToken{}, status.Transport("auth.login", 0, ctx.Err())
	}
}

type loginReply struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// login performs the basic-auth credential exchange.
func (c *Client) login(ctx context.Context) (AccessToken, error) {
	const op = "auth.login"

	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" {
		return AccessToken{}, status.Configuration(op, "payment service credentials are not configured")
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.APIKey + ":" + c.cfg.SecretKey))
	header := http.Header{}
	header.Set("Authorization", "Basic "+basic)

	code, raw, err := c.send(ctx, op, http.MethodPost, c.cfg.BaseURL+"/api/v1/auth/login", header, nil)
	if err != nil {
		return AccessToken{}, err
	}

	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		c.logger.Warn("credential exchange rejected", "status", code, "body", string(raw))
		return AccessToken{}, status.Authentication(op, "payment service rejected the credentials", nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AccessToken{}, status.Transport(op, code, err)
	}
	if !env.RequestSuccessful {
		c.logger.Warn("credential exchange rejected",
			"status", code, "code", env.ResponseCode, "message", env.ResponseMessage)
		return AccessToken{}, status.Authentication(op, "payment service rejected the credentials", nil)
	}
	if code < 200 || code > 299 {
		return AccessToken{}, status.Transport(op, code, nil)
	}

	var reply loginReply
	if err := json.Unmarshal(env.ResponseBody, &reply); err != nil || reply.AccessToken == "" || reply.ExpiresIn <= 0 {
		c.logger.Warn("credential exchange returned an incomplete body", "body", string(env.ResponseBody))
		return AccessToken{}, status.Authentication(op, "payment service returned an incomplete token", err)
	}

	return AccessToken{
		Value:     reply.AccessToken,
		ExpiresAt: c.now().Add(time.Duration(reply.ExpiresIn) * time.Second),
	}, nil
}
