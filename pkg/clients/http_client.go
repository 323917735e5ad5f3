// Package clients provides the shared HTTP machinery for API-backed
// providers: a rate-limited client with retries, and OAuth2 token sources.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// HTTPConfig configures the REST client.
type HTTPConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	DialTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Requests per second and burst for the client-side limiter.
	// Zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	InsecureSkipVerify bool

	// AuthHeader is applied to every request (e.g. "X-API-Key" -> key,
	// or "Authorization" -> "Bearer ...").
	AuthHeader map[string]string
}

// DefaultHTTPConfig returns sane defaults for vendor APIs.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		RequestTimeout: 30 * time.Second,
		DialTimeout:    10 * time.Second,
		MaxRetries:     5,
		RetryBaseDelay: 500 * time.Millisecond,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
	}
}

// HTTPClient is a rate-limited HTTP client with retry on transient
// failures. Safe for concurrent use.
type HTTPClient struct {
	config  *HTTPConfig
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a client from config.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.RequestTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // operator opt-in
			MinVersion:         tls.VersionTLS12,
		},
	}

	c := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
		client: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
	}
	if config.RateLimitRPS > 0 {
		burst := config.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst)
	}
	return c
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, url, nil, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response JSON")
	}
	return nil
}

// PostJSON marshals in, performs a POST, and decodes the response into out
// (out may be nil to discard the body).
func (c *HTTPClient) PostJSON(ctx context.Context, url string, headers map[string]string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode request JSON")
	}
	body, err := c.do(ctx, http.MethodPost, url, payload, headers)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response JSON")
	}
	return nil
}

// do runs one request with rate limiting and retry on retryable failures.
func (c *HTTPClient) do(ctx context.Context, method, url string, payload []byte, headers map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.config.RetryBaseDelay, attempt)
			c.logger.Debug("retrying request",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "request cancelled")
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeRateLimit, "rate limiter wait failed")
			}
		}

		body, err := c.doOnce(ctx, method, url, payload, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) doOnce(ctx context.Context, method, url string, payload []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	for k, v := range c.config.AuthHeader {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "pulse-ingest/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, statusError(resp, body)
}

// statusError maps an HTTP status to the error taxonomy.
func statusError(resp *http.Response, body []byte) error {
	msg := http.StatusText(resp.StatusCode)
	if len(body) > 0 && len(body) <= 512 {
		msg = string(body)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Newf(errors.ErrorTypeAuthentication, "HTTP %d: %s", resp.StatusCode, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		err := errors.Newf(errors.ErrorTypeRateLimit, "HTTP 429: %s", msg)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				return err.WithDetail("retry_after_seconds", secs)
			}
		}
		return err
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return errors.Newf(errors.ErrorTypeTimeout, "HTTP %d: %s", resp.StatusCode, msg)
	case resp.StatusCode >= 500:
		return errors.Newf(errors.ErrorTypeConnection, "HTTP %d: %s", resp.StatusCode, msg)
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return errors.Newf(errors.ErrorTypeData, "HTTP %d: %s", resp.StatusCode, msg)
	default:
		return errors.Newf(errors.ErrorTypeInternal, "HTTP %d: %s", resp.StatusCode, msg)
	}
}

// backoffDelay is exponential with full delays capped at 30s.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}
