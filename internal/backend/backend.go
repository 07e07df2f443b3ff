// Package backend is the HTTP client for the coaching backend: users, profiles, consultation
// threads and advice pieces.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/util"
	"github.com/google/uuid"
)

// Defaults for the backend client.
const (
	DefaultTimeout      = 20 * time.Second
	DefaultRetries      = 2
	DefaultRetryBackoff = 500 * time.Millisecond
	// APIKeyHeader carries the shared secret on every request.
	APIKeyHeader = "X-API-KEY"
	// RequestIDHeader correlates a call across bot and backend logs.
	RequestIDHeader = "X-Request-ID"
	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// ErrNotFound is returned when the backend answers 404.
var ErrNotFound = errors.New("backend: not found")

// StatusError is returned for any other non-2xx answer.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Opts holds configuration for the backend client.
type Opts struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
}

// Option configures the backend client.
type Option func(*Opts)

// WithEndpoint sets the backend base URL, e.g. https://api.example.com/api.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// WithAPIKey sets the X-API-KEY value.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRetries sets how many extra attempts a failed call may make. Reads retry transport
// errors and 5xx answers; calls with side effects retry only failed connection attempts.
func WithRetries(n int) Option {
	return func(o *Opts) { o.Retries = n }
}

// WithRetryBackoff sets the base delay between attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Opts) { o.RetryBackoff = d }
}

// WithHTTPClient injects an HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the backend API.
type Client struct {
	base         string
	apiKey       string
	http         *http.Client
	retries      int
	retryBackoff time.Duration
}

// NewClient creates a backend client. The endpoint is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: DefaultTimeout, Retries: DefaultRetries, RetryBackoff: DefaultRetryBackoff}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("backend endpoint must be provided")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid backend endpoint: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	slog.Debug("backend.NewClient configured", "endpoint", cfg.Endpoint, "api_key_set", cfg.APIKey != "",
		"timeout", cfg.Timeout, "retries", cfg.Retries)
	return &Client{
		base:         strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		http:         httpClient,
		retries:      cfg.Retries,
		retryBackoff: cfg.RetryBackoff,
	}, nil
}

// DummyEmail builds the synthetic backend identity for a transport user, e.g. tg.42@dummy.com.
func DummyEmail(channel, userID string) string {
	return fmt.Sprintf("%s.%s@dummy.com", channel, userID)
}

// GeneratePassword returns a throwaway password for users created by the bot.
func GeneratePassword() string {
	return "generated_pass_" + util.GenerateRandomHex(20)
}

// retryPolicy decides which failures of a call may be repeated.
type retryPolicy int

const (
	// retryReads repeats transport errors and 5xx answers; safe for idempotent reads.
	retryReads retryPolicy = iota
	// retryDialOnly repeats only failures to connect, where no request reached the backend.
	// Chat turns, advice pops and writes use it.
	retryDialOnly
)

func (p retryPolicy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return p == retryReads && statusErr.Code >= 500
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return p == retryReads
	}
	return false
}

// do performs one logical call, retrying per policy, and decodes a JSON answer into out
// (when non-nil).
func (c *Client) do(ctx context.Context, policy retryPolicy, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
	}
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	requestID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryBackoff
			slog.Warn("backend: retrying request", "method", method, "path", path, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.attempt(ctx, method, target, path, requestID, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !policy.retryable(err) {
			return err
		}
	}
	return lastErr
}

// attempt sends a single request.
func (c *Client) attempt(ctx context.Context, method, target, path, requestID string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	slog.Debug("backend: response", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", requestID, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(snippet)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s %s: %w", method, path, err)
	}
	return nil
}
