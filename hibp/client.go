// Package hibp provides a minimal client for the Have I Been Pwned v3 API.
//
// Only the breached-account lookup is implemented. The API key is sent in the
// hibp-api-key header and never appears in the URL or request body.
//
// See: https://haveibeenpwned.com/API/v3#BreachesForAccount
package hibp

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
)

const (
	// DefaultBaseURL is the HIBP v3 API root.
	DefaultBaseURL = "https://haveibeenpwned.com/api/v3"

	// DefaultUserAgent is sent with every request; HIBP rejects requests without one.
	DefaultUserAgent = "DigitalOceanCloudFunction/1.0"

	// APIKeyHeader carries the subscription key.
	APIKeyHeader = "hibp-api-key"

	defaultContentType = "application/json"
	maxResponseBytes   = 4 << 20
)

// Common errors.
var (
	ErrMissingAPIKey  = errors.New("missing HIBP API key")
	ErrInvalidBaseURL = errors.New("invalid HIBP base URL")
	ErrRequestFailed  = errors.New("breach lookup request failed")
	ErrMissingAccount = errors.New("missing account")
)

// Config holds configuration for the HIBP client.
type Config struct {
	// BaseURL is the API root (default: DefaultBaseURL).
	BaseURL string

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// HTTPClient is used for requests (default: 5 second timeout).
	HTTPClient *http.Client
}

// Client queries the HIBP breached-account endpoint.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// Response is an upstream answer ready to relay to the caller.
type Response struct {
	// StatusCode is the upstream HTTP status, relayed verbatim.
	StatusCode int

	// Body is JSON text: the upstream JSON re-encoded, or the upstream
	// text encoded as a JSON string when it is not JSON.
	Body string

	// ContentType is the upstream Content-Type, or application/json when absent.
	ContentType string
}

// NewClient creates a new HIBP client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
	}, nil
}

// BreachedAccount looks up every breach the account appears in, untruncated.
// Any upstream HTTP status is a successful lookup; only transport failures
// return an error.
func (c *Client) BreachedAccount(ctx context.Context, account, apiKey string) (*Response, error) {
	if account == "" {
		return nil, ErrMissingAccount
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL(account), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set(APIKeyHeader, apiKey)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrRequestFailed, err)
	}

	body, err := encodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: contentType,
	}, nil
}

func (c *Client) accountURL(account string) string {
	return c.baseURL + "/breachedaccount/" + escapeAccount(account) + "?truncateResponse=false"
}

// escapeAccount percent-encodes everything outside the RFC 3986 unreserved
// set. The account always stays a single path segment.
func escapeAccount(account string) string {
	return strings.ReplaceAll(url.QueryEscape(account), "+", "%20")
}

func encodeBody(raw []byte) (string, error) {
	if json.Valid(raw) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(string(raw)); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
