// Package provider implements the AccountProvider port against a JSON HTTP
// bridge that owns the provider's login protocol.
package provider

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

	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.AccountProvider = (*Client)(nil)
	_ driven.ProviderSession = (*session)(nil)
)

// maxErrorBody bounds how much of an error response is read into messages.
const maxErrorBody = 4 << 10

// Client talks to the provider bridge.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	token   string
}

// NewClient creates a bridge client for baseURL. token is sent as a bearer
// token when non-empty.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	return NewClientWithHTTPClient(&http.Client{Timeout: timeout}, baseURL, token)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client. Tests
// use it to point the client at an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing provider URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parsing provider URL: unsupported scheme %q", u.Scheme)
	}

	return &Client{http: httpClient, baseURL: u, token: token}, nil
}

type sessionRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type twoFactorRequest struct {
	Code string `json:"code"`
}

type passwordRequest struct {
	NewPassword string `json:"new_password"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Authenticate opens a provider session with the account's credentials.
func (c *Client) Authenticate(ctx context.Context, login, password string) (driven.ProviderSession, error) {
	var out sessionResponse
	status, err := c.post(ctx, "/v1/sessions", sessionRequest{Login: login, Password: password}, &out)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, fmt.Errorf("authenticate %s: %w: %v", login, driven.ErrAuthentication, err)
		}
		return nil, fmt.Errorf("authenticate %s: %w: %v", login, driven.ErrProvider, err)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("authenticate %s: %w: bridge returned no session id", login, driven.ErrProvider)
	}

	slog.Debug("provider session opened", "login", login)
	return &session{client: c, id: out.SessionID}, nil
}

// session is an open bridge session.
type session struct {
	client *Client
	id     string
}

// SubmitTwoFactorCode completes the login with the one-time code.
func (s *session) SubmitTwoFactorCode(ctx context.Context, code string) (driven.ProviderSession, error) {
	status, err := s.client.post(ctx, s.path("two-factor"), twoFactorRequest{Code: code}, nil)
	if err != nil {
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
			return nil, fmt.Errorf("submit two-factor code: %w: %v", driven.ErrTwoFactor, err)
		default:
			return nil, fmt.Errorf("submit two-factor code: %w: %v", driven.ErrProvider, err)
		}
	}
	return s, nil
}

// ChangePassword sets the account's new password.
func (s *session) ChangePassword(ctx context.Context, newPassword string) error {
	if _, err := s.client.post(ctx, s.path("password"), passwordRequest{NewPassword: newPassword}, nil); err != nil {
		return fmt.Errorf("change password: %w: %v", driven.ErrProvider, err)
	}
	return nil
}

func (s *session) path(action string) string {
	return "/v1/sessions/" + url.PathEscape(s.id) + "/" + action
}

// post sends body as JSON and decodes a 2xx response into out when out is
// non-nil. The returned status is 0 when no response was received.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return "no details"
	}

	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(raw))
}

// errNotConfigured is returned by Disabled.
var errNotConfigured = errors.New("provider not configured")

// Disabled is the provider used when no bridge URL is configured. Codes and
// account management keep working; rotations fail with ErrProvider.
type Disabled struct{}

var _ driven.AccountProvider = Disabled{}

// Authenticate always fails.
func (Disabled) Authenticate(context.Context, string, string) (driven.ProviderSession, error) {
	return nil, fmt.Errorf("%w: %w", driven.ErrProvider, errNotConfigured)
}
