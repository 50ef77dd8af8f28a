// Package upstream holds the HTTP clients for the decision backend's
// metrics and thresholds endpoints.
package upstream

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
)

// ErrStatus is wrapped by every error caused by a non-2xx response.
var ErrStatus = errors.New("upstream: unexpected status")

type client struct {
	url        string
	httpClient *http.Client
}

func newClient(url string, timeout time.Duration, hc *http.Client) client {
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return client{url: strings.TrimSpace(url), httpClient: hc}
}

func (c client) getJSON(ctx context.Context, out any) error {
	return c.do(ctx, http.MethodGet, nil, out)
}

func (c client) postJSON(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, body, out)
}

func (c client) do(ctx context.Context, method string, body []byte, out any) error {
	if c.url == "" {
		return fmt.Errorf("empty endpoint")
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %s", ErrStatus, method, c.url, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
