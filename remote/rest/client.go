// Package rest implements remote.Backend over the project REST API.
//
// Endpoints:
//
//	GET  {base}/projects/{projectId}/system   200 System | 204/404 none
//	POST {base}/projects/{projectId}/system   create, 200/201 System
//	PUT  {base}/projects/{projectId}/system   replace (system id known)
//
// 401 and 403 responses map to remote.ErrAuthentication.
package rest

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

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/zero-day-ai/threatmodel/remote"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4096

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. https://tm.example.com/api.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is matches remote.ErrAuthentication for 401 and 403.
func (e *StatusError) Is(target error) bool {
	return target == remote.ErrAuthentication &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Client talks to the REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ remote.Backend = (*Client)(nil)

// New creates a REST client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("rest: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid base URL: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  httpClient,
		logger:  logger,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

func (c *Client) systemPath(projectID string) string {
	return "/projects/" + url.PathEscape(projectID) + "/system"
}

// checkToken rejects a bearer token whose exp claim has passed. The token is
// not verified; the server remains the authority.
func (c *Client) checkToken() error {
	if c.token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		// Opaque tokens are fine.
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return fmt.Errorf("%w: token expired at %s", remote.ErrAuthentication, exp.Time.Format(time.RFC3339))
	}
	return nil
}

// do sends a request and decodes a JSON response into out. It reports
// found=false for 204 responses, and for 404 only on GET.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (found bool, err error) {
	if err := c.checkToken(); err != nil {
		return false, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("rate limit: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close resource", "resource", "HTTP response", "error", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return true, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

// GetSystem fetches the project's system. It returns nil, nil when the
// project has none.
func (c *Client) GetSystem(ctx context.Context, projectID string) (*remote.System, error) {
	var sys remote.System
	found, err := c.do(ctx, http.MethodGet, c.systemPath(projectID), nil, &sys)
	if err != nil {
		return nil, wrap(remote.ErrLoad, err)
	}
	if !found {
		return nil, nil
	}
	if sys.ProjectID == "" {
		sys.ProjectID = projectID
	}
	return &sys, nil
}

// SaveSystem creates the system when it has no id yet and replaces it
// otherwise.
func (c *Client) SaveSystem(ctx context.Context, sys remote.System) (*remote.System, error) {
	method := http.MethodPut
	if sys.ID == "" {
		method = http.MethodPost
	}

	var accepted remote.System
	found, err := c.do(ctx, method, c.systemPath(sys.ProjectID), sys, &accepted)
	if err != nil {
		return nil, wrap(remote.ErrSave, err)
	}
	if !found {
		// Servers that answer 204 accepted the payload as sent.
		return &sys, nil
	}
	if accepted.ProjectID == "" {
		accepted.ProjectID = sys.ProjectID
	}
	return &accepted, nil
}

// wrap tags err with the operation sentinel while keeping it matchable.
func wrap(op error, err error) error {
	return fmt.Errorf("%w: %w", op, err)
}
