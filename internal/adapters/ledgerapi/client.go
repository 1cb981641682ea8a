// Package ledgerapi talks to the ledger and bank-feed HTTP API. It
// implements the reconcile Source and Ledger ports.
package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/config"
)

// ErrStatus is wrapped by every non-2xx response error.
var ErrStatus = errors.New("unexpected status")

// StatusError describes a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

const (
	maxResponseBytes = 32 << 20
	maxErrorBody     = 512
)

// Client is the ledger API client.
type Client struct {
	baseURL       string
	apiKey        string
	endpoints     config.Endpoints
	excludeDomain string

	http  *retryablehttp.Client // reads and idempotent writes
	once  *retryablehttp.Client // creates: never retried
	cache *ristretto.Cache
	ttl   time.Duration

	logger *slog.Logger
}

// New creates a client from the ledger configuration.
func New(cfg config.LedgerConfig, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ledger base_url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        10000,
		MaxCost:            10000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account cache: %w", err)
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		endpoints:     cfg.Endpoints,
		excludeDomain: strings.ToLower(strings.TrimSpace(cfg.ExcludeEmailDomain)),
		http:          newHTTPClient(cfg.Timeout, cfg.RetryMax, logger),
		once:          newHTTPClient(cfg.Timeout, 0, logger),
		cache:         cache,
		ttl:           cfg.AccountCacheTTL,
		logger:        logger,
	}, nil
}

func newHTTPClient(timeout time.Duration, retries int, logger *slog.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.HTTPClient.Timeout = timeout
	c.Logger = logger
	// Hand back the last response so a non-2xx turns into a StatusError.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// SetRetryWait bounds the backoff between retries.
func (c *Client) SetRetryWait(min, max time.Duration) {
	for _, hc := range []*retryablehttp.Client{c.http, c.once} {
		hc.RetryWaitMin = min
		hc.RetryWaitMax = max
	}
}

// Close releases the account cache.
func (c *Client) Close() {
	c.cache.Close()
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, c.http, http.MethodGet, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var raw any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		raw = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, raw)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}
	c.logger.Debug("Ledger API call",
		"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func withID(path, id string) string {
	return strings.ReplaceAll(path, "{id}", url.PathEscape(id))
}
