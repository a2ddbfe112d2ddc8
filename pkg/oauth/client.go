package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached metadata.
	// Zero keeps entries for the lifetime of the client.
	DefaultMetadataCacheTTL time.Duration = 0

	// maxResponseBytes caps the size of metadata, registration and token
	// responses read into memory.
	maxResponseBytes = 1 << 20
)

// metadataCacheEntry holds cached server metadata with its timestamp.
type metadataCacheEntry struct {
	metadata  *ServerMetadata
	fetchedAt time.Time
}

// Client handles the network side of the OAuth 2.1 client pipeline:
// metadata discovery, dynamic client registration and token requests.
//
// A Client owns its discovery cache. Create one per process (or per test)
// and share it; call ClearMetadataCache to reset it.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// allowInsecureLoopback permits http:// endpoints on loopback hosts.
	allowInsecureLoopback bool

	// Metadata cache with mutex for thread safety
	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// singleflight group to deduplicate concurrent metadata fetches
	metadataGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL. Zero disables expiry.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// WithAllowInsecureLoopback allows plain http resource and endpoint URLs
// when they point at localhost, 127.0.0.1 or ::1.
func WithAllowInsecureLoopback(allow bool) ClientOption {
	return func(c *Client) {
		c.allowInsecureLoopback = allow
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HTTPClient returns the HTTP client used for all requests.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// statusError reports an unexpected HTTP status.
type statusError struct {
	URL        string
	StatusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// errDecode marks a response body that was not valid JSON.
var errDecode = errors.New("invalid JSON response")

// getJSON performs a GET with Accept: application/json and decodes a 2xx
// body into v. The returned status code is 0 when no response was received.
func (c *Client) getJSON(ctx context.Context, rawURL string, v interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return resp.StatusCode, &statusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return resp.StatusCode, fmt.Errorf("%w from %s: %v", errDecode, rawURL, err)
	}

	return resp.StatusCode, nil
}
