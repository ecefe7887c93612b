// Package client talks to the auth API and keeps the caller's session alive.
//
// A Client owns one token pair. When an authenticated call fails because the
// access token expired, the client refreshes the pair and retries the call
// once. Concurrent callers that hit an expired token share a single refresh
// request; if it fails every one of them gets ErrSessionExpired and the local
// tokens are cleared.
package client

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
	"sync"
	"time"
)

const (
	defaultMaxRefreshAttempts = 3
	refreshTimeout            = 30 * time.Second
)

type Client struct {
	baseURL            string
	httpClient         *http.Client
	tokens             TokenStore
	maxRefreshAttempts int

	mu       sync.Mutex
	inflight *refreshCall
	// refreshStreak counts refreshes since the last authenticated call that
	// succeeded.
	refreshStreak int
}

type refreshCall struct {
	done chan struct{}
	err  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		if store != nil {
			c.tokens = store
		}
	}
}

func WithMaxRefreshAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRefreshAttempts = n
		}
	}
}

// New returns a client for the API rooted at baseURL, including the route
// prefix (for example "https://host/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		httpClient:         &http.Client{Timeout: 15 * time.Second},
		tokens:             NewMemoryTokenStore(),
		maxRefreshAttempts: defaultMaxRefreshAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Tokens() TokenPair {
	return c.tokens.Load()
}

func (c *Client) SetTokens(tokens TokenPair) {
	c.tokens.Save(tokens)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

// authorized sends an authenticated request and, when the access token has
// expired, refreshes once and retries. A bodyFunc body is rebuilt for the
// retry so it can read the rotated tokens.
func (c *Client) authorized(ctx context.Context, method, path string, body, out any) error {
	access := c.tokens.Load().AccessToken
	if access == "" {
		return ErrNotAuthenticated
	}

	payload, err := encodeBody(body)
	if err != nil {
		return err
	}

	err = c.send(ctx, method, path, payload, access, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.expired() {
		if err == nil {
			c.resetStreak()
		}
		return err
	}

	if err := c.refresh(ctx, access); err != nil {
		return err
	}

	if payload, err = encodeBody(body); err != nil {
		return err
	}
	err = c.send(ctx, method, path, payload, c.tokens.Load().AccessToken, out)
	if err == nil {
		c.resetStreak()
	}
	return err
}

// refresh exchanges the refresh token for a new pair. stale is the access
// token the caller saw rejected; if the store already holds a different one,
// another caller refreshed in the meantime and nothing is sent.
//
// The exchange runs detached from ctx: a caller that gives up only stops
// waiting, the shared refresh still completes for everyone else.
func (c *Client) refresh(ctx context.Context, stale string) error {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		return call.wait(ctx)
	}

	current := c.tokens.Load()
	if current.AccessToken != "" && current.AccessToken != stale {
		c.mu.Unlock()
		return nil
	}
	if current.RefreshToken == "" {
		c.mu.Unlock()
		return ErrSessionExpired
	}
	if c.refreshStreak >= c.maxRefreshAttempts {
		c.tokens.Clear()
		c.mu.Unlock()
		return ErrSessionExpired
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.refreshStreak++
	c.mu.Unlock()

	go c.exchange(context.WithoutCancel(ctx), call, current.RefreshToken)
	return call.wait(ctx)
}

func (c *Client) exchange(ctx context.Context, call *refreshCall, refreshToken string) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	var data struct {
		Tokens TokenPair `json:"tokens"`
	}
	err := c.send(ctx, http.MethodPost, "/auth/refresh-token", mustJSON(map[string]string{
		"refreshToken": refreshToken,
	}), "", &data)

	c.mu.Lock()
	if err != nil {
		c.tokens.Clear()
		call.err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
	} else {
		c.tokens.Save(data.Tokens)
	}
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)
}

func (call *refreshCall) wait(ctx context.Context) error {
	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) resetStreak() {
	c.mu.Lock()
	c.refreshStreak = 0
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, access string, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "unreadable response body"}
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// bodyFunc builds a request body at send time.
type bodyFunc func() any

func encodeBody(body any) ([]byte, error) {
	if build, ok := body.(bodyFunc); ok {
		body = build()
	}
	if body == nil {
		return nil, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return payload, nil
}

func mustJSON(v any) []byte {
	payload, _ := json.Marshal(v)
	return payload
}

func escape(segment string) string {
	return url.PathEscape(segment)
}
