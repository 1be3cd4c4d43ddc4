// Package keycloak is a small client for the Keycloak admin REST API.
//
// It covers what tenant provisioning needs: the master-realm admin token,
// clients and their roles, users, role mappings and organizations. Every
// admin call takes the bearer token explicitly so that a workflow run owns
// its credential for its whole lifetime.
package keycloak

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

	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/pkg/logger"
	"nexaauth.io/provisioner/internal/pkg/worker"
)

// Sentinel errors.
var (
	// ErrAuthFailure means the admin token could not be obtained.
	ErrAuthFailure = errors.New("keycloak: admin authentication failed")

	// ErrNotFound matches an APIError with status 404.
	ErrNotFound = errors.New("keycloak: resource not found")

	// ErrInconsistentState means a create reported a conflict but the
	// follow-up lookup found no matching resource.
	ErrInconsistentState = errors.New("keycloak: conflict reported but no matching resource found")
)

// APIError is a non-2xx response from the admin API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("keycloak: %s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("keycloak: %s %s: status %d: %s", e.Method, e.Path, e.Status, body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Config is the immutable connection configuration shared by Client and TokenSource.
type Config struct {
	ServerURL      string
	Realm          string
	AdminUser      string
	AdminPassword  string
	AdminClientID  string
	RequestTimeout time.Duration
	Discovery      bool
}

func (c Config) baseURL() string {
	return strings.TrimRight(c.ServerURL, "/")
}

func (c Config) httpClient() *http.Client {
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Client calls the admin API of one realm.
type Client struct {
	cfg  Config
	http *http.Client
	pool *worker.Pool
}

// NewClient creates an admin API client. pool may be nil, in which case
// role fan-out runs sequentially.
func NewClient(cfg Config, pool *worker.Pool) *Client {
	return &Client{
		cfg:  cfg,
		http: cfg.httpClient(),
		pool: pool,
	}
}

// Realm returns the realm this client operates on.
func (c *Client) Realm() string {
	return c.cfg.Realm
}

// Response is a fully-read admin API response.
type Response struct {
	Method string
	Path   string
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

func (r *Response) apiError() *APIError {
	return &APIError{Method: r.Method, Path: r.Path, Status: r.Status, Body: string(r.Body)}
}

// adminPath joins escaped segments under /admin/realms/{realm}.
func (c *Client) adminPath(segments ...string) string {
	var b strings.Builder
	b.WriteString("/admin/realms/")
	b.WriteString(url.PathEscape(c.cfg.Realm))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// send performs one admin API call and reads the whole body. Non-2xx
// statuses are returned as a response, not an error; callers decide.
func (c *Client) send(ctx context.Context, token, method, path string, query url.Values, body io.Reader, contentType string) (*Response, error) {
	u := c.cfg.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keycloak: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("keycloak: read %s %s: %w", method, path, err)
	}

	logger.FromContext(ctx).Debug("Keycloak admin call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Response{
		Method: method,
		Path:   path,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

func (c *Client) sendJSON(ctx context.Context, token, method, path string, payload any) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
	}
	return c.send(ctx, token, method, path, nil, bytes.NewReader(data), "application/json")
}

// getJSON decodes a 2xx body into out; any other status is an *APIError.
func (c *Client) getJSON(ctx context.Context, token, path string, query url.Values, out any) error {
	resp, err := c.send(ctx, token, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.apiError()
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode GET %s: %w", path, err)
	}
	return nil
}

// getRaw returns a 2xx body untouched, for pass-through reads.
func (c *Client) getRaw(ctx context.Context, token, path string) (json.RawMessage, error) {
	resp, err := c.send(ctx, token, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.apiError()
	}
	if len(resp.Body) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(resp.Body), nil
}

// Ping checks that the realm's OIDC discovery document is served.
func (c *Client) Ping(ctx context.Context) error {
	u := c.cfg.baseURL() + "/realms/" + url.PathEscape(c.cfg.Realm) + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("keycloak unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("keycloak realm %q returned status %d", c.cfg.Realm, resp.StatusCode)
	}
	return nil
}
