// Package crmapi is the HTTP client for the CRM messaging backend: cursor
// paginated message and conversation listings, mark-read and send.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tOgg1/crmchat/internal/credentials"
	"github.com/tOgg1/crmchat/internal/logging"
	"github.com/tOgg1/crmchat/internal/metrics"
	"github.com/tOgg1/crmchat/internal/timestamp"
)

const (
	// DefaultChannel is the channel requested when none is configured.
	DefaultChannel = "whatsapp"

	// DefaultPageSize is used when a fetch is asked for a non-positive limit.
	DefaultPageSize = 50

	defaultTimeout   = 15 * time.Second
	maxErrorBody     = 4096
	maxResponseBody  = 8 << 20
	requestIDHeader  = "X-Request-ID"
	contentTypeJSON  = "application/json"
	authHeaderPrefix = "Bearer "
)

// Client talks to the CRM REST backend. It holds no per-conversation state
// and is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	creds      credentials.Provider
	channel    string
	tsOpts     timestamp.Options
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	requestID  func() string
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithCredentials sets the bearer token source.
func WithCredentials(p credentials.Provider) Option {
	return func(c *Client) {
		c.creds = p
	}
}

// WithChannel sets the channel filter sent with listings and used for sends.
func WithChannel(channel string) Option {
	return func(c *Client) {
		if channel = strings.TrimSpace(channel); channel != "" {
			c.channel = channel
		}
	}
}

// WithTimestampOptions controls how message timestamps are resolved.
func WithTimestampOptions(opts timestamp.Options) Option {
	return func(c *Client) {
		c.tsOpts = opts
	}
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records request latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client rooted at baseURL. Paths are joined onto the
// base, so a base of https://crm.example.com/api yields /api/messages/cursor.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("crmapi: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("crmapi: base url must be absolute: %q", baseURL)
	}
	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: defaultTimeout},
		channel:    DefaultChannel,
		logger:     logging.Component("crmapi"),
		requestID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Channel returns the configured channel filter.
func (c *Client) Channel() string {
	return c.channel
}

// TimestampOptions returns the options used to annotate fetched messages.
func (c *Client) TimestampOptions() timestamp.Options {
	return c.tsOpts
}

func (c *Client) endpoint(path string, q url.Values) *url.URL {
	u := c.baseURL.JoinPath(path)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u
}

// doJSON performs one request. in is JSON-encoded when non-nil; out is
// decoded from a 2xx body when non-nil.
func (c *Client) doJSON(ctx context.Context, name, method string, u *url.URL, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("crmapi: %s: wait for rate limiter: %w", name, err)
		}
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crmapi: %s: marshal request: %w", name, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("crmapi: %s: create request: %w", name, err)
	}
	requestID := c.requestID()
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set(requestIDHeader, requestID)
	if in != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if err := c.authorize(ctx, req); err != nil {
		return fmt.Errorf("crmapi: %s: %w", name, err)
	}

	safeURL := logging.RedactURL(u)
	start := time.Now()
	res, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveRequest(name, 0, elapsed)
		c.logger.Debug().Err(err).Str("method", method).Str("url", safeURL).
			Str("request_id", requestID).Dur("elapsed", elapsed).Msg("request failed")
		return fmt.Errorf("crmapi: %s: %w", name, err)
	}
	defer func() { _ = res.Body.Close() }()

	c.metrics.ObserveRequest(name, res.StatusCode, elapsed)
	c.logger.Debug().Str("method", method).Str("url", safeURL).Int("status", res.StatusCode).
		Str("request_id", requestID).Dur("elapsed", elapsed).Msg("request")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			Method:     method,
			URL:        safeURL,
			Detail:     errorDetail(buf),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBody)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("crmapi: %s: decode response: %w", name, err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.creds == nil {
		return nil
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		c.logger.Debug().Msg("no bearer token configured; sending unauthenticated request")
		return nil
	}
	req.Header.Set("Authorization", authHeaderPrefix+token)
	return nil
}

// errorDetail pulls the backend's `detail` field out of an error body. The
// backend sends either a string or a list of validation errors with `msg`.
func errorDetail(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return logging.Redact(string(body))
	}
	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		return text
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return logging.Redact(string(payload.Detail))
}
