package gantry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/matgreaves/gantry/spec"
)

// Event mirrors the daemon's event log entry for JSON decoding from the
// SSE stream. Only the fields the SDK needs are included.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      string         `json:"type"`
	Stack     string         `json:"stack,omitempty"`
	Service   string         `json:"service,omitempty"`
	Replica   string         `json:"replica,omitempty"`
	Endpoint  *spec.Endpoint `json:"endpoint,omitempty"`
	Image     string         `json:"image,omitempty"`
	Desired   int            `json:"desired,omitempty"`
	Error     string         `json:"error,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Events connects to the stack's SSE stream and delivers lifecycle
// events on the returned channel, starting after fromSeq (pass 0 for the
// full replay). The channel is closed when ctx is cancelled or the
// stream ends; resume by passing the last Seq seen.
func (c *Client) Events(ctx context.Context, key string, fromSeq uint64) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/stacks/"+key+"/events", nil)
	if err != nil {
		return nil, err
	}
	if fromSeq > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", fromSeq))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var data string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")

			case line == "":
				if data == "" {
					continue
				}
				var ev Event
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					data = ""
					continue
				}
				data = ""
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// WaitReady streams events until the stack comes up, returning nil on
// stack.up. A failing or torn-down stack returns an error that carries
// every replica and image failure seen along the way.
func (c *Client) WaitReady(ctx context.Context, key string) error {
	events, err := c.Events(ctx, key, 0)
	if err != nil {
		return err
	}

	var failures []string
	for ev := range events {
		switch ev.Type {
		case "stack.up":
			return nil

		case "stack.failing":
			failures = append(failures, ev.Error)

		case "replica.failed":
			failures = append(failures, fmt.Sprintf("replica %q: %s", ev.Replica, ev.Error))

		case "image.failed":
			failures = append(failures, fmt.Sprintf("image %q: %s", ev.Image, ev.Error))

		case "stack.down":
			if len(failures) > 0 {
				return fmt.Errorf("stack failed:\n  %s", strings.Join(failures, "\n  "))
			}
			return fmt.Errorf("stack went down before coming up")
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event stream closed before stack.up")
}
