package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTP checks health by making an HTTP GET request and comparing the
// status code against the expected set.
type HTTP struct {
	Path          string // default "/"
	ExpectedCodes []int  // default [200]
}

func (h *HTTP) Check(ctx context.Context, host string, port int) error {
	path := h.Path
	if path == "" {
		path = "/"
	}

	url := fmt.Sprintf("http://%s:%d%s", host, port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	codes := h.ExpectedCodes
	if len(codes) == 0 {
		codes = []int{200}
	}
	for _, c := range codes {
		if resp.StatusCode == c {
			return nil
		}
	}
	return fmt.Errorf("HTTP %d (expected one of %v)", resp.StatusCode, codes)
}
