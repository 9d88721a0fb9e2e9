package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single backoffice request.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Credentials are the delegated values sent to the backoffice for one user.
type Credentials struct {
	CustomerID   string
	PrivateKey   string
	RefreshToken string
	DeviceID     string
	ClientState  string
}

// Token is a backoffice access token and its companion values.
type Token struct {
	Kind             Kind
	AccessToken      string
	ExpiresAt        time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	ClientState      string
	CustomerID       string
}

// StatusError reports a non-2xx backoffice response.
type StatusError struct {
	Kind       Kind
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backoffice %s endpoint returned status %d", e.Kind, e.StatusCode)
}

// TokenSource is the pair of backoffice calls the Broker composes.
type TokenSource interface {
	AcquireConnectionToken(ctx context.Context, creds Credentials) (*Token, error)
	RefreshConnectionToken(ctx context.Context, creds Credentials) (*Token, error)
}

// ClientConfig configures an HTTP Client.
type ClientConfig struct {
	BaseURL        string
	EcommerceToken string
	// ExtraLoginData is sent verbatim as extra_login_data; it defaults to {}.
	ExtraLoginData json.RawMessage
	Timeout        time.Duration
	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// Client calls the backoffice over HTTP. It performs no retries.
type Client struct {
	baseURL        string
	ecommerceToken string
	extra          json.RawMessage
	http           *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backoffice base URL is required")
	}
	extra := cfg.ExtraLoginData
	if len(extra) == 0 {
		extra = json.RawMessage("{}")
	} else if !json.Valid(extra) {
		return nil, errors.New("backoffice extra login data must be valid JSON")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:        base,
		ecommerceToken: cfg.EcommerceToken,
		extra:          extra,
		http:           hc,
	}, nil
}

// AcquireConnectionToken exchanges the full delegated credential set for a
// connection token.
func (c *Client) AcquireConnectionToken(ctx context.Context, creds Credentials) (*Token, error) {
	payload := connectionRequest{
		ClientState:          creds.ClientState,
		CustomerID:           creds.CustomerID,
		CustomerPrivateKey:   creds.PrivateKey,
		CustomerRefreshToken: creds.RefreshToken,
		DeviceID:             creds.DeviceID,
		EcommerceToken:       c.ecommerceToken,
		ExtraLoginData:       c.extra,
	}
	return c.post(ctx, connectionEndpoint, payload)
}

// RefreshConnectionToken exchanges the refresh token for a new access token.
func (c *Client) RefreshConnectionToken(ctx context.Context, creds Credentials) (*Token, error) {
	payload := refreshRequest{
		ClientState:          creds.ClientState,
		CustomerID:           creds.CustomerID,
		CustomerRefreshToken: creds.RefreshToken,
		DeviceID:             creds.DeviceID,
		EcommerceToken:       c.ecommerceToken,
	}
	return c.post(ctx, refreshEndpoint, payload)
}

func (c *Client) post(ctx context.Context, ep endpoint, payload interface{}) (*Token, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ep.path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backoffice %s: %w", ep.kind, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
		return nil, &StatusError{Kind: ep.kind, StatusCode: res.StatusCode}
	}

	var env tokenEnvelope
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&env); err != nil {
		return nil, fmt.Errorf("backoffice %s: decode response: %w", ep.kind, err)
	}
	return ep.adapt(env)
}
