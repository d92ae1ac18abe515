// Package client is the HTTP core of the session SDK. It attaches the stored
// access token to every outbound request, detects authorization failures, and
// drives the single-flight refresh flow that recovers from them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/models"
	"github.com/huddleapp/huddle-go/storage"
)

const (
	defaultTimeout = 30 * time.Second

	// RefreshPath is the token refresh endpoint. Responses from it are never
	// intercepted, which keeps the refresh flow from recursing.
	RefreshPath = "/auth/refresh"

	// PasswordLoginPath is the password login endpoint. A 401 from it is a
	// bad credential, not an expired session, so it is never intercepted.
	PasswordLoginPath = "/auth/login/password"
)

// Config holds the settings for a Client
type Config struct {
	// BaseURL is the backend API base URL, e.g. https://api.huddle.app
	BaseURL string

	// Timeout applies to every outbound call; expiry surfaces as a network
	// failure. Defaults to 30s.
	Timeout time.Duration

	// Store persists the session. Defaults to a no-op store.
	Store storage.TokenStore

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// OnSessionExpired runs after an unrecoverable refresh failure has
	// cleared the store. The embedding application decides how to return the
	// user to its login surface; it should skip navigation while already on
	// an auth or invite surface to avoid loops. It runs while the refresh
	// coordinator is settling and must not call back into the Client.
	OnSessionExpired func()

	// OnOrgSwitch runs after an org switch has replaced the session, so the
	// application can drop caches keyed by the previous org scope.
	OnOrgSwitch func(orgID uuid.UUID)
}

// Client wraps outbound calls to the backend API. It is safe for concurrent
// use; all goroutines share one refresh coordinator.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	store            storage.TokenStore
	logger           *zap.Logger
	coord            *Coordinator
	onSessionExpired func()
	onOrgSwitch      func(orgID uuid.UUID)
}

// New creates a Client from the given config
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewNoopStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Client{
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		store:            cfg.Store,
		logger:           cfg.Logger,
		onSessionExpired: cfg.OnSessionExpired,
		onOrgSwitch:      cfg.OnOrgSwitch,
	}
	c.coord = NewCoordinator(c.refreshSession, c.persistRefresh, c.teardownSession, cfg.Logger)

	return c
}

// Store returns the token store backing this client
func (c *Client) Store() storage.TokenStore {
	return c.store
}

// CancelRefresh releases any queued refresh waiters with a terminal error and
// discards the result of an in-flight refresh. Logout calls this before
// clearing the store so a late refresh cannot resurrect the session.
func (c *Client) CancelRefresh() {
	c.coord.Cancel()
}

// NotifyOrgSwitch fires the org-switch invalidation hook
func (c *Client) NotifyOrgSwitch(orgID uuid.UUID) {
	if c.onOrgSwitch != nil {
		c.onOrgSwitch(orgID)
	}
}

// Get issues an authenticated GET request
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues an authenticated POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do issues a request with the stored access token attached. On a 401 it
// coordinates a single-flight token refresh and retries the call once with
// the new token; every other failure propagates unchanged as an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	return c.do(ctx, method, path, body, out, false)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, retried bool) error {
	bearer := c.store.GetToken(storage.KeyAccessToken)

	status, respBody, err := c.send(ctx, method, path, body, bearer)
	if err != nil {
		return NewAPIError(KindNetwork, "request failed", err)
	}

	if status < 300 {
		return decodeInto(respBody, out)
	}

	apiErr := parseAPIError(status, respBody)

	// Terminal cases: not an auth failure, already retried, or a call whose
	// 401 must not trigger the refresh flow.
	if apiErr.Kind != KindUnauthorized || retried || interceptExempt(path) {
		return apiErr
	}

	if _, err := c.coord.Coordinate(ctx); err != nil {
		return err
	}

	// Replay once with the refreshed token.
	return c.do(ctx, method, path, body, out, true)
}

// send performs one raw HTTP round trip. It is also the transport for the
// refresh call itself, which bypasses the interception in do.
func (c *Client) send(ctx context.Context, method, path string, body interface{}, bearer string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// refreshSession exchanges the stored refresh token for a new token pair.
// Runs only inside the coordinator's single flight.
func (c *Client) refreshSession(ctx context.Context) (*models.TokenPair, error) {
	refreshToken := c.store.GetToken(storage.KeyRefreshToken)
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	status, body, err := c.send(ctx, http.MethodPost, RefreshPath, map[string]string{
		"refreshToken": refreshToken,
	}, "")
	if err != nil {
		return nil, NewAPIError(KindNetwork, "token refresh failed", err)
	}
	if status != http.StatusOK {
		return nil, parseAPIError(status, body)
	}

	var pair models.TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, NewAPIError(KindServer, "malformed refresh response", err)
	}
	if pair.AccessToken == "" {
		return nil, NewAPIError(KindServer, "refresh response missing access token", nil)
	}

	return &pair, nil
}

// persistRefresh stores a refreshed token pair. An empty refresh token means
// the backend did not rotate it, so the stored one stays valid.
func (c *Client) persistRefresh(pair *models.TokenPair) {
	c.store.SetToken(storage.KeyAccessToken, pair.AccessToken)
	if pair.RefreshToken != "" {
		c.store.SetToken(storage.KeyRefreshToken, pair.RefreshToken)
	}
	c.logger.Debug("session refreshed", zap.Bool("refresh_token_rotated", pair.RefreshToken != ""))
}

// teardownSession destroys the local session after an unrecoverable refresh
// failure and hands control back to the application.
func (c *Client) teardownSession() {
	c.store.ClearAll()
	c.logger.Info("session torn down after unrecoverable auth failure")
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}

// interceptExempt reports whether a 401 from path must propagate unchanged
func interceptExempt(path string) bool {
	return path == RefreshPath || path == PasswordLoginPath
}

// decodeInto unmarshals a response body, tolerating empty bodies and callers
// that do not want the payload
func decodeInto(body []byte, out interface{}) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewAPIError(KindServer, "malformed response body", err)
	}
	return nil
}
