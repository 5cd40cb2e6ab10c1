package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/models"
)

const (
	requestCodePath = "/api/verification/request-code"
	confirmCodePath = "/api/verification/confirm-code"
	finalizePath    = "/api/verification/finalize"
)

// HTTPChannel talks to a verification backend over HTTP. request-code is
// retried on transport errors and 5xx responses, since a repeated request
// only supersedes the previous code; a 4xx answer, including a cooldown, ends
// the retries. confirm-code and finalize are sent once.
type HTTPChannel struct {
	baseURL         string
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
	grants          grantBook
	logger          zerolog.Logger
}

// HTTPChannelOption customizes an HTTPChannel.
type HTTPChannelOption func(*HTTPChannel)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPChannelOption {
	return func(c *HTTPChannel) { c.client = client }
}

// WithRetry sets how many times request-code is retried and the first delay.
func WithRetry(maxRetries uint64, initialInterval time.Duration) HTTPChannelOption {
	return func(c *HTTPChannel) {
		c.maxRetries = maxRetries
		c.initialInterval = initialInterval
	}
}

func NewHTTPChannel(baseURL string, logger zerolog.Logger, opts ...HTTPChannelOption) *HTTPChannel {
	c := &HTTPChannel{
		baseURL:         baseURL,
		client:          &http.Client{Timeout: 30 * time.Second},
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		logger:          logger.With().Str("component", "verification_http").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError is a non-2xx answer from the backend.
type statusError struct {
	status     int
	code       string
	message    string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("verification api: %d %s: %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("verification api: %d: %s", e.status, e.message)
}

func (e *statusError) Unwrap() []error {
	var errs []error
	if err := ErrorForCode(e.code); err != nil {
		errs = append(errs, err)
	}
	if e.retryAfter > 0 {
		errs = append(errs, &CooldownError{RetryAfter: e.retryAfter})
	}
	return errs
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func (c *HTTPChannel) RequestCode(ctx context.Context, email string) (models.VerificationRequest, error) {
	body := map[string]string{"email": email}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(c.initialInterval)), c.maxRetries),
		ctx,
	)

	req, err := backoff.RetryNotifyWithData(func() (models.VerificationRequest, error) {
		var out models.VerificationRequest
		err := c.post(ctx, requestCodePath, body, &out)
		var se *statusError
		if errors.As(err, &se) && se.status < http.StatusInternalServerError {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, policy, func(err error, next time.Duration) {
		c.logger.Warn().Err(err).Dur("retryIn", next).Msg("request-code failed, retrying")
	})
	if err != nil {
		if errors.Is(err, ErrDelivery) {
			return req, err
		}
		return req, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return req, nil
}

func (c *HTTPChannel) ConfirmCode(ctx context.Context, email, code string) (models.AccountID, error) {
	var out models.ConfirmResult
	if err := c.post(ctx, confirmCodePath, map[string]string{"email": email, "code": code}, &out); err != nil {
		return "", err
	}
	if out.AccountID == "" {
		return "", errors.New("verification api: confirm-code returned no account id")
	}
	c.grants.put(out.AccountID, out.Grant)
	return out.AccountID, nil
}

func (c *HTTPChannel) Finalize(ctx context.Context, accountID models.AccountID, profile models.DraftProfile) (string, error) {
	grant, ok := c.grants.peek(accountID)
	if !ok {
		return "", fmt.Errorf("%w: no grant for account %s", ErrFinalize, accountID)
	}

	var out models.FinalizeResult
	if err := c.post(ctx, finalizePath, finalizeRequest(grant, profile), &out); err != nil {
		return "", err
	}
	c.grants.take(accountID)
	return out.Token, nil
}

// post sends body as JSON and decodes the envelope's data into out.
func (c *HTTPChannel) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("verification api %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("verification api %s: read body: %w", path, err)
	}

	var envelope struct {
		Status  int             `json:"status"`
		Message string          `json:"message"`
		Code    string          `json:"code"`
		Data    json.RawMessage `json:"data"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("verification api %s: decode response: %w", path, err)
		}
	}

	if resp.StatusCode >= 300 {
		return &statusError{
			status:     resp.StatusCode,
			code:       envelope.Code,
			message:    envelope.Message,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("verification api %s: decode data: %w", path, err)
	}
	return nil
}
