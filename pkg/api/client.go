// Package api is the HTTP client for the Ansim backend: voice session
// issuance, the SDP exchange, food recognition, and the style listing.
//
// All request paths are normalised under the backend's /api prefix unless
// the caller passes an absolute URL, mirroring the behaviour of the web
// client this backend was built for.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Default timeouts for backend requests.
const (
	defaultTimeout        = 20 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Error is a failed backend request. Status is the HTTP status code, or 0
// for failures that never reached the server (validation, transport).
type Error struct {
	Status  int
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("api: %s (status: %d)", e.Message, e.Status)
	}
	return "api: " + e.Message
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Primarily used in
// tests to point at a local server with fake timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAccessToken sets a bearer token attached to authenticated endpoints.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

// Client calls the Ansim backend. Safe for concurrent use.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// New creates a Client for the given base URL (e.g. "https://ansim.example").
// A trailing slash on baseURL is stripped.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: defaultConnectTimeout,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// buildURL resolves a request path against the base URL, scoping relative
// paths under /api. Absolute URLs pass through untouched.
func (c *Client) buildURL(path string) string {
	if path == "" {
		return c.baseURL + "/api/"
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/api/") {
		return c.baseURL + path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + "/api" + path
}

// postJSON performs a JSON POST and decodes a JSON response into out.
// A bearer token overrides the client's access token when non-empty.
func (c *Client) postJSON(ctx context.Context, path string, body, out any, bearer string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Message: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return &Error{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.setAuth(req, bearer)

	return c.do(req, out)
}

// getJSON performs a GET and decodes a JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(path), nil)
	if err != nil {
		return &Error{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req, "")

	return c.do(req, out)
}

func (c *Client) setAuth(req *http.Request, bearer string) {
	switch {
	case bearer != "":
		req.Header.Set("Authorization", "Bearer "+bearer)
	case c.accessToken != "":
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return &Error{Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Status:  resp.StatusCode,
			Message: "request rejected",
			Detail:  string(body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Status: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
