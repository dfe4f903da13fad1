// Package api is the HTTP client for the RentDesk backend: credential login,
// token refresh, identity lookup and the health probe. Response payloads are
// normalized into the canonical identity shapes at this boundary.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rentdesk.org/internal/identity"
)

const requestTimeout = 5 * time.Second

var (
	// ErrUnauthorized indicates the backend rejected the credentials or token.
	ErrUnauthorized = errors.New("api: unauthorized")
	// ErrThrottled indicates the local probe limiter suppressed a health check.
	ErrThrottled = errors.New("api: health probe throttled")
)

// Client talks to the backend REST API.
type Client struct {
	baseURL   string
	healthURL string
	httpc     *http.Client
	log       *zap.Logger
	limiter   *rate.Limiter
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying transport (useful for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpc = c
		}
	}
}

// WithHealthLimit overrides the health probe pacing.
func WithHealthLimit(limit rate.Limit, burst int) Option {
	return func(cl *Client) {
		cl.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewClient builds a Client for the given API base URL. The health endpoint
// lives on the service root, so any versioned API prefix is stripped before
// appending the health path.
func NewClient(baseURL string, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c := &Client{
		baseURL:   base,
		healthURL: healthEndpoint(base),
		httpc:     &http.Client{Timeout: requestTimeout},
		log:       log,
		// One probe per 5 seconds steady-state, with headroom for the
		// startup check and the post-timeout fallback.
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// healthEndpoint strips a trailing /api or /api/vN segment and appends the
// fixed health path.
func healthEndpoint(base string) string {
	trimmed := base
	for _, suffix := range []string{"/api/v1", "/api/v2", "/api"} {
		if strings.HasSuffix(trimmed, suffix) {
			trimmed = strings.TrimSuffix(trimmed, suffix)
			break
		}
	}
	if trimmed == "" {
		trimmed = base
	}
	return trimmed + "/health"
}

// LoginResult is the normalized login response.
type LoginResult struct {
	User         identity.User `json:"user"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	TokenType    string        `json:"token_type"`
}

// RefreshResult carries the replacement access token.
type RefreshResult struct {
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Login exchanges credentials for a token pair and the authenticated user.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out LoginResult
	if err := c.postJSON(ctx, c.baseURL+"/auth/login", body, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

// Refresh exchanges the refresh token for a new access token. A 401 means the
// refresh token itself is no longer trusted.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var out RefreshResult
	if err := c.postJSON(ctx, c.baseURL+"/auth/refresh", body, &out); err != nil {
		return RefreshResult{}, err
	}
	return out, nil
}

// Me fetches the authenticated identity.
func (c *Client) Me(ctx context.Context, accessToken string) (identity.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return identity.User{}, err
	}
	authorize(req, accessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return identity.User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return identity.User{}, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return identity.User{}, fmt.Errorf("api: me returned %d", resp.StatusCode)
	}

	var user identity.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return identity.User{}, fmt.Errorf("api: decode me response: %w", err)
	}
	return user, nil
}

// Health probes backend reachability. The dedicated health endpoint is tried
// first; on a network-level failure the authenticated identity endpoint acts
// as fallback, since any HTTP response proves the server is up. Status codes
// below 500 count as online: 401 and other 4xx mean the server answered, the
// credentials were simply not good enough.
func (c *Client) Health(ctx context.Context, accessToken string) (bool, error) {
	if !c.limiter.Allow() {
		return false, ErrThrottled
	}

	if online, err := c.probe(ctx, c.healthURL, ""); err == nil {
		return online, nil
	}

	online, err := c.probe(ctx, c.baseURL+"/auth/me", accessToken)
	if err != nil {
		return false, nil
	}
	return online, nil
}

func (c *Client) probe(ctx context.Context, url, accessToken string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	if accessToken != "" {
		authorize(req, accessToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("api: %s returned %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body *bytes.Reader) (*http.Request, error) {
	if body == nil {
		return http.NewRequestWithContext(ctx, method, url, nil)
	}
	return http.NewRequestWithContext(ctx, method, url, body)
}

func authorize(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}
