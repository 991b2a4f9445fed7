// Package backend talks to the authorization backend over its REST contract.
//
// Two credential carriers exist and stay separate: SessionCookie is the
// ambient session established by Login, ResetToken is the bearer value from
// a password-reset link. Each endpoint takes exactly the carrier it needs.
package backend

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

	"github.com/sony/gobreaker"

	"habilitations/internal/config"
	"habilitations/internal/models"
)

// SessionCookie is the opaque backend session token.
type SessionCookie string

// ResetToken is the bearer credential carried by a password-reset link.
type ResetToken string

const maxBodyBytes = 1 << 20

type LoginResult struct {
	AcceptedTerms bool `json:"acceptedTerms"`
}

type Client struct {
	baseURL    string
	cookieName string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func New(cfg config.Config) *Client {
	return NewWithHTTPClient(cfg.BackendURL, cfg.BackendSessionCookie, &http.Client{Timeout: cfg.BackendTimeout()})
}

func NewWithHTTPClient(baseURL, cookieName string, hc *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookieName: cookieName,
		client:     hc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "backend",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				if err == nil || errors.Is(err, context.Canceled) {
					return true
				}
				var apiErr *APIError
				return errors.As(err, &apiErr) && apiErr.Status < 500
			},
		}),
	}
}

// CookieName is the name of the backend session cookie.
func (c *Client) CookieName() string { return c.cookieName }

type response struct {
	status  int
	body    []byte
	cookies []*http.Cookie
}

// call sends one request through the circuit breaker. Any non-2xx status is
// returned as *APIError, a missing response as ErrTransport.
func (c *Client) call(ctx context.Context, method, path string, payload any, decorate func(*http.Request)) (response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if decorate != nil {
		decorate(req)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, parseAPIError(resp.StatusCode, raw)
		}
		return response{status: resp.StatusCode, body: raw, cookies: resp.Cookies()}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return response{}, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return response{}, err
	}
	return out.(response), nil
}

func (r response) decode(into any) error {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, into); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

func (c *Client) withSession(s SessionCookie) func(*http.Request) {
	return func(req *http.Request) {
		if s != "" {
			req.AddCookie(&http.Cookie{Name: c.cookieName, Value: string(s)})
		}
	}
}

func withBearer(t ResetToken) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+string(t))
	}
}

func (c *Client) Login(ctx context.Context, cp, password string) (LoginResult, SessionCookie, error) {
	resp, err := c.call(ctx, http.MethodPost, "/auth/login", map[string]string{"cp": cp, "mdp": password}, nil)
	if err != nil {
		return LoginResult{}, "", err
	}
	var out LoginResult
	if err := resp.decode(&out); err != nil {
		return LoginResult{}, "", err
	}
	for _, ck := range resp.cookies {
		if ck.Name == c.cookieName && ck.Value != "" {
			return out, SessionCookie(ck.Value), nil
		}
	}
	return LoginResult{}, "", ErrNoSession
}

func (c *Client) AcceptTerms(ctx context.Context, s SessionCookie) error {
	_, err := c.call(ctx, http.MethodPatch, "/auth/terms", nil, c.withSession(s))
	return err
}

// Me returns the role string of the session as sent by the backend.
func (c *Client) Me(ctx context.Context, s SessionCookie) (string, error) {
	resp, err := c.call(ctx, http.MethodGet, "/auth/me", nil, c.withSession(s))
	if err != nil {
		return "", err
	}
	var out struct {
		Role string `json:"role"`
	}
	if err := resp.decode(&out); err != nil {
		return "", err
	}
	return out.Role, nil
}

func (c *Client) Logout(ctx context.Context, s SessionCookie) error {
	_, err := c.call(ctx, http.MethodPost, "/auth/logout", nil, c.withSession(s))
	return err
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := c.call(ctx, http.MethodPost, "/auth/reset-password", map[string]string{"email": email}, nil)
	return err
}

func (c *Client) UpdatePassword(ctx context.Context, t ResetToken, password string) error {
	_, err := c.call(ctx, http.MethodPatch, "/auth/update-password", map[string]string{"mdp": password}, withBearer(t))
	return err
}

func (c *Client) CreateAgent(ctx context.Context, s SessionCookie, a models.Agent) (models.Agent, error) {
	resp, err := c.call(ctx, http.MethodPost, "/agent", a, c.withSession(s))
	if err != nil {
		return models.Agent{}, err
	}
	return agentOr(resp, a)
}

func (c *Client) GetAgent(ctx context.Context, s SessionCookie, cp string) (models.Agent, error) {
	resp, err := c.call(ctx, http.MethodGet, "/agent/"+url.PathEscape(cp), nil, c.withSession(s))
	if err != nil {
		return models.Agent{}, err
	}
	var out models.Agent
	if err := resp.decode(&out); err != nil {
		return models.Agent{}, err
	}
	if out.CP == "" {
		return models.Agent{}, &APIError{Status: http.StatusNotFound}
	}
	return out, nil
}

func (c *Client) UpdateAgent(ctx context.Context, s SessionCookie, a models.Agent) (models.Agent, error) {
	resp, err := c.call(ctx, http.MethodPatch, "/agent/"+url.PathEscape(a.CP), a, c.withSession(s))
	if err != nil {
		return models.Agent{}, err
	}
	return agentOr(resp, a)
}

func (c *Client) DeleteAgent(ctx context.Context, s SessionCookie, cp string) error {
	_, err := c.call(ctx, http.MethodDelete, "/agent/"+url.PathEscape(cp), nil, c.withSession(s))
	return err
}

// Ping reports whether the backend answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodGet, "/auth/me", nil, nil)
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		return nil
	}
	return err
}

// agentOr decodes the record echoed by the backend, falling back to what
// was sent when the body is empty.
func agentOr(resp response, sent models.Agent) (models.Agent, error) {
	var out models.Agent
	if err := resp.decode(&out); err != nil {
		return models.Agent{}, err
	}
	if out.CP == "" {
		return sent, nil
	}
	return out, nil
}
