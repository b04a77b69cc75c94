// Package gantry is the client SDK for gantryd. It applies stack specs,
// reports stack status, streams lifecycle events, and tears stacks down.
package gantry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/matgreaves/gantry/httpx"
	"github.com/matgreaves/gantry/spec"
)

// Client talks to a gantryd instance.
type Client struct {
	http *httpx.Client
}

// New creates a client for the daemon at baseURL
// (e.g. "http://127.0.0.1:7070").
func New(baseURL string) *Client {
	return &Client{http: httpx.NewClient(strings.TrimRight(baseURL, "/"))}
}

// ValidationError is returned by Apply when the daemon rejects the spec.
// Each problem is a human-readable message; the daemon reports all of
// them at once rather than stopping at the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("spec validation failed:\n  %s", strings.Join(e.Problems, "\n  "))
}

// Apply submits a stack spec and returns the instance ID. Applying is
// idempotent by stack name: re-applying an identical spec returns the
// existing instance, while a different spec under an active name fails —
// Destroy the old stack first.
func (c *Client) Apply(ctx context.Context, st spec.Stack) (string, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/stacks", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("apply stack: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var created struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return "", fmt.Errorf("decode apply response: %w", err)
		}
		return created.ID, nil

	case http.StatusUnprocessableEntity:
		var body struct {
			Error            string   `json:"error"`
			ValidationErrors []string `json:"validation_errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && len(body.ValidationErrors) > 0 {
			return "", &ValidationError{Problems: body.ValidationErrors}
		}
		return "", fmt.Errorf("apply stack: %s", body.Error)

	default:
		return "", apiError(resp)
	}
}

// Status returns the stack's current resolved state. key is an instance
// ID or a stack name.
func (c *Client) Status(ctx context.Context, key string) (spec.ResolvedStack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/stacks/"+key, nil)
	if err != nil {
		return spec.ResolvedStack{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return spec.ResolvedStack{}, fmt.Errorf("get stack %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return spec.ResolvedStack{}, apiError(resp)
	}
	var resolved spec.ResolvedStack
	if err := json.NewDecoder(resp.Body).Decode(&resolved); err != nil {
		return spec.ResolvedStack{}, fmt.Errorf("decode stack %q: %w", key, err)
	}
	return resolved, nil
}

// Destroy tears the stack down and blocks until every replica has
// stopped and its ports are released.
func (c *Client) Destroy(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, "/stacks/"+key, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("destroy stack %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// apiError converts a non-2xx response into an error, preferring the
// daemon's JSON error message over the raw body.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &httpx.StatusError{Status: resp.StatusCode, Body: payload.Error}
	}
	return &httpx.StatusError{Status: resp.StatusCode, Body: string(body)}
}
