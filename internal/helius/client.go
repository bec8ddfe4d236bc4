package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"solana-rewards-indexer/internal/observability"
)

// Default configuration values.
const (
	DefaultAPIURL            = "https://api.helius.xyz"
	DefaultRPCURL            = "https://mainnet.helius-rpc.com"
	DefaultCommitment        = "finalized"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 10
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultMaxDelay          = 10 * time.Second

	maxBodyBytes = 64 << 20
	maxErrorBody = 512
)

// Client talks to the Helius REST and RPC endpoints.
// It is safe for concurrent use; all calls share one rate limiter.
type Client struct {
	apiURL     string
	rpcURL     string
	apiKey     string
	commitment string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	requestID  atomic.Uint64
	logger     *slog.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithAPIURL sets the enhanced transactions API base URL.
func WithAPIURL(u string) ClientOption {
	return func(c *Client) {
		c.apiURL = u
	}
}

// WithRPCURL sets the JSON-RPC endpoint used for getAsset.
func WithRPCURL(u string) ClientOption {
	return func(c *Client) {
		c.rpcURL = u
	}
}

// WithCommitment sets the commitment level passed to the feed.
func WithCommitment(commitment string) ClientOption {
	return func(c *Client) {
		c.commitment = commitment
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
}

// WithMaxRetries sets maximum retry attempts for metadata lookups.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay for metadata lookups.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay for metadata lookups.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Helius client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiURL:     DefaultAPIURL,
		rpcURL:     DefaultRPCURL,
		apiKey:     apiKey,
		commitment: DefaultCommitment,
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a rate limited GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(ctx, endpoint, req)
}

// post performs a rate limited JSON POST and returns the body of a 200 response.
func (c *Client) post(ctx context.Context, endpoint, rawURL string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, endpoint, req)
}

func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.roundTrip(req)
	observability.RecordFeedCall(endpoint, time.Since(start).Seconds(), err)
	return body, err
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transient("http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transient("read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, transient("http status", se)
		}
		return nil, se
	}

	return body, nil
}

// rpcEndpoint returns the RPC URL with the api-key parameter added when missing.
func (c *Client) rpcEndpoint() string {
	u, err := url.Parse(c.rpcURL)
	if err != nil || c.apiKey == "" {
		return c.rpcURL
	}
	q := u.Query()
	if q.Get("api-key") == "" {
		q.Set("api-key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
