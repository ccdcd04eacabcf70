// Package auth talks to the external credential backend. Credentials are
// never validated locally; the backend is the single source of identity and
// plan tier.
package auth

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

var (
	ErrUnauthorized  = errors.New("credentials rejected")
	ErrUnavailable   = errors.New("auth backend unavailable")
	ErrNotConfigured = errors.New("auth backend not configured")
)

// Result is the backend's verdict for an accepted credential pair.
type Result struct {
	Identity           string `json:"identity"`
	PlanTier           string `json:"plan_tier"`
	MustChangePassword bool   `json:"must_change_password"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client forwards credential pairs to the auth collaborator over HTTP.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Authenticate submits the credential pair. Rejections surface as
// ErrUnauthorized; an unreachable or failing backend surfaces as
// ErrUnavailable with retry-later semantics. Nothing is retried here.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Result, error) {
	if c.url == "" {
		return Result{}, ErrNotConfigured
	}

	payload, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return Result{}, fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return Result{}, ErrUnauthorized
	case res.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, fmt.Errorf("auth backend status %d: %s", res.StatusCode, string(body))
	}

	var out Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode auth response: %w", err)
	}
	if out.Identity == "" {
		return Result{}, fmt.Errorf("auth backend returned no identity")
	}
	return out, nil
}
