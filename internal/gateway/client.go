package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"ticket-payments/internal/status"
	"ticket-payments/monitoring"
	"ticket-payments/utils"
)

// envelope wraps every processor response.
type envelope struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

// errServerStatus marks a 5xx reply so the breaker counts it as a failure.
type errServerStatus struct {
	code int
	body []byte
}

func (e *errServerStatus) Error() string { return fmt.Sprintf("server replied %d", e.code) }

// send performs one round trip through the breaker and returns the status code
// and body. Only network failures, timeouts, an open breaker and 5xx replies
// are errors here.
func (c *Client) send(ctx context.Context, op, method, target string, header http.Header, body []byte) (int, []byte, error) {
	if c.cfg.BaseURL == "" {
		return 0, nil, status.Configuration(op, "payment service base URL is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var (
		code int
		raw  []byte
	)
	start := c.now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Request-ID", uuid.NewString())

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		code = resp.StatusCode
		raw, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if code >= 500 {
			return &errServerStatus{code: code, body: raw}
		}
		return nil
	})
	took := c.now().Sub(start)

	if err != nil {
		monitoring.TrackGatewayCall(op, monitoring.OutcomeError, took)

		var srv *errServerStatus
		switch {
		case errors.As(err, &srv):
			c.logger.Warn("payment service server error", "op", op, "status", srv.code, "body", string(srv.body))
			return srv.code, srv.body, status.Transport(op, srv.code, err)
		case errors.Is(err, utils.ErrOpenState), errors.Is(err, utils.ErrTooManyRequests):
			c.logger.Warn("payment service circuit open", "op", op)
			return 0, nil, status.Transport(op, 0, err)
		default:
			c.logger.Warn("payment service unreachable", "op", op, "error", err)
			return 0, nil, status.Transport(op, 0, err)
		}
	}

	outcome := monitoring.OutcomeOK
	if code < 200 || code > 299 {
		outcome = monitoring.OutcomeRejected
	}
	monitoring.TrackGatewayCall(op, outcome, took)
	return code, raw, nil
}

// call sends an authenticated request and decodes the envelope. Any reply
// without a parseable envelope is a transport error, as is a non-2xx without
// one. A 4xx with an envelope is a processor rejection.
func (c *Client) call(ctx context.Context, op string, rules []rule, method, path string, query url.Values, payload any) (*envelope, error) {
	tok, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal payload: %w", op, err)
		}
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok.Value)

	code, raw, err := c.send(ctx, op, method, target, header, body)
	if err != nil {
		return nil, err
	}

	if code == http.StatusUnauthorized {
		c.tokens.Invalidate()
		c.logger.Warn("bearer token rejected", "op", op, "body", string(raw))
		return nil, status.Authentication(op, "payment service session expired; please retry", nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, status.Transport(op, code, fmt.Errorf("decode envelope: %w", err))
	}
	if code < 200 || code > 299 {
		if env.ResponseMessage == "" && env.ResponseCode == "" {
			return nil, status.Transport(op, code, nil)
		}
		return nil, c.reject(op, code, &env, rules)
	}
	return &env, nil
}

// do is call plus the success check and body decoding into out.
func (c *Client) do(ctx context.Context, op string, rules []rule, method, path string, query url.Values, payload, out any) error {
	env, err := c.call(ctx, op, rules, method, path, query, payload)
	if err != nil {
		return err
	}
	if !env.RequestSuccessful {
		return c.reject(op, http.StatusOK, env, rules)
	}
	if out == nil {
		return nil
	}
	if len(env.ResponseBody) == 0 || string(env.ResponseBody) == "null" {
		return &status.Error{Kind: status.ErrGateway, Op: op, Message: msgDefault, Err: errors.New("empty response body")}
	}
	if err := json.Unmarshal(env.ResponseBody, out); err != nil {
		return status.Transport(op, http.StatusOK, fmt.Errorf("decode body: %w", err))
	}
	return nil
}

// reject logs the processor payload and returns the user-safe rejection.
func (c *Client) reject(op string, httpStatus int, env *envelope, rules []rule) *status.Error {
	c.logger.Warn("payment service rejected request",
		"op", op,
		"status", httpStatus,
		"code", env.ResponseCode,
		"message", env.ResponseMessage,
		"body", string(env.ResponseBody),
	)
	msg, retryable := translate(env.ResponseCode, httpStatus, env.ResponseMessage, rules)
	return &status.Error{
		Kind:       status.ErrGateway,
		Op:         op,
		Message:    msg,
		Code:       env.ResponseCode,
		StatusCode: httpStatus,
		Retryable:  retryable,
	}
}
