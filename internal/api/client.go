// Package api talks to the remote auth API and owns the session
// lifecycle: it attaches the current access token to every request,
// refreshes the session once on 401 and retries, restores the session
// at startup and tears it down on logout.
package api

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

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/okazan/clauth/internal/apperrors"
	"github.com/okazan/clauth/internal/logger"
	"github.com/okazan/clauth/internal/models"
	"github.com/okazan/clauth/internal/secretstore"
	"github.com/okazan/clauth/internal/session"
)

const defaultRefreshTimeout = 10 * time.Second

type Config struct {
	// Base URL of the auth API, e.g. "https://api.example.com"
	// Required to be set
	BaseURL string

	// HTTP client to send requests with
	// If not set the default client is used
	HTTPClient *http.Client

	// Timeout for the refresh call specifically. A hung refresh would
	// otherwise block every retry waiting on it
	RefreshTimeout time.Duration

	Logger logger.Logger
}

type Client struct {
	baseURL        string
	http           *http.Client
	refreshTimeout time.Duration
	logger         logger.Logger

	session *session.Store
	secrets secretstore.Store

	// Coalesces concurrent refresh attempts: the first 401 starts the
	// refresh, concurrent callers await the same attempt
	refreshGroup singleflight.Group
}

func NewClient(cfg Config, sess *session.Store, secrets secretstore.Store) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL must not be empty")
	}
	if sess == nil || secrets == nil {
		return nil, errors.New("session store and secret store must not be nil")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout == 0 {
		refreshTimeout = defaultRefreshTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           httpClient,
		refreshTimeout: refreshTimeout,
		logger:         log,
		session:        sess,
		secrets:        secrets,
	}, nil
}

// Session returns the session store the client reads from and updates
func (c *Client) Session() *session.Store {
	return c.session
}

// Do sends an authenticated request and decodes the JSON response into
// out (skipped when out is nil or the body is empty). On 401 it
// refreshes the session and retries the original request exactly once;
// a 401 on the retry is returned to the caller as a plain APIError.
func (c *Client) Do(ctx context.Context, method string, path string, body any, out any) error {
	resp, err := c.send(ctx, method, path, body, c.session.Snapshot().AccessToken)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)

		access, err := c.refreshSession(ctx)
		if err != nil {
			return err
		}

		resp, err = c.send(ctx, method, path, body, access)
		if err != nil {
			return err
		}
	}

	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}

	return decodeBody(resp, out)
}

// call sends a single request without the refresh-and-retry protocol.
// Login, register, refresh and logout use it: a 401 from those
// endpoints means bad credentials, not an expired access token.
func (c *Client) call(ctx context.Context, method string, path string, body any, out any, access string) error {
	resp, err := c.send(ctx, method, path, body, access)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}

	return decodeBody(resp, out)
}

// send builds and executes one HTTP request. The body is marshaled per
// attempt so a retry replays it safely.
func (c *Client) send(ctx context.Context, method string, path string, body any, access string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// refreshSession runs the refresh protocol through the single-flight
// group and returns the new access token
func (c *Client) refreshSession(ctx context.Context) (string, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// doRefresh exchanges the stored refresh token for a new token pair.
// Both failure modes are terminal: the session is cleared and the
// stored token deleted, so the caller ends up signed out.
func (c *Client) doRefresh(ctx context.Context) (string, error) {
	refresh, err := c.secrets.Get(ctx)
	switch {
	case errors.Is(err, apperrors.ErrSecretNotFound):
		c.session.Clear()
		return "", &APIError{
			Status:  http.StatusUnauthorized,
			Code:    CodeNoRefreshToken,
			Message: "no refresh token stored",
			err:     apperrors.ErrNoRefreshToken,
		}
	case err != nil:
		return "", fmt.Errorf("failed to read refresh token: %w", err)
	}

	pair, err := c.refreshCall(ctx, refresh)
	if err != nil {
		if err := c.secrets.Delete(ctx); err != nil {
			c.logger.Warn("Failed to delete refresh token", "error", err)
		}
		c.session.Clear()

		status := 0
		var details any
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			status = apiErr.Status
			details = apiErr.Details
		}
		c.logger.Info("Session refresh failed", "status", status, "error", err)

		return "", &APIError{
			Status:  status,
			Code:    CodeRefreshFailed,
			Message: "session refresh failed",
			Details: details,
			err:     apperrors.ErrRefreshFailed,
		}
	}

	// Persist the rotated refresh token before exposing the new access
	// token, so durable storage never holds a token the cache doesn't
	// know how to pair with
	if err := c.secrets.Set(ctx, pair.Refresh); err != nil {
		return "", fmt.Errorf("failed to persist refresh token: %w", err)
	}
	c.session.Set(pair.Access, nil)

	c.logger.Debug("Session refreshed")
	return pair.Access, nil
}

// refreshCall posts the refresh token with its own deadline, detached
// from the caller's cancellation since concurrent callers share the result
func (c *Client) refreshCall(ctx context.Context, refresh string) (models.TokenPair, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	type refreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	var pair models.TokenPair
	err := c.call(ctx, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: refresh}, &pair, "")
	return pair, err
}

// decodeBody decodes the JSON body into out. An empty body is fine:
// out is left untouched.
func decodeBody(resp *http.Response, out any) error {
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
