// Package httpx provides the small HTTP client and server helpers shared
// by the daemon, the bundled services, and tests.
package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
)

// Client is an HTTP client that prepends a base URL to all request paths.
type Client struct {
	// BaseURL is prepended to all request paths (e.g. "http://127.0.0.1:8080").
	// Must not have a trailing slash.
	BaseURL string

	// HTTP is the underlying http.Client. If nil, http.DefaultClient is used.
	HTTP *http.Client
}

// NewClient creates an HTTP client for the given base URL string.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Get sends a GET request to BaseURL + path.
func (c *Client) Get(path string) (*http.Response, error) {
	return c.httpClient().Get(c.BaseURL + path)
}

// Post sends a POST request to BaseURL + path.
func (c *Client) Post(path, contentType string, body io.Reader) (*http.Response, error) {
	return c.httpClient().Post(c.BaseURL+path, contentType, body)
}

// PostJSON marshals in, POSTs it to BaseURL + path, and decodes the
// response body into out (which may be nil). Non-2xx responses are
// returned as a *StatusError carrying the body.
func (c *Client) PostJSON(path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.Post(path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Do sends an HTTP request. If the request URL has no host (i.e. is a
// relative path like "/stacks/agent-app"), it is resolved against
// BaseURL. Absolute URLs are sent as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.URL.Host == "" {
		base, err := url.Parse(c.BaseURL)
		if err != nil {
			return nil, err
		}
		req.URL = base.ResolveReference(req.URL)
	}
	return c.httpClient().Do(req)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return http.StatusText(e.Status) + ": " + e.Body
}
