// Package netclient is the HTTP transport used by the snapshot engine.
// It issues plain GETs and classifies failures so the engine can decide
// between retrying, failing the sync, or staying silent on cancellation.
package netclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	userAgent      = "audiolift/1.0"

	// errorBodyLimit caps how much of an error response body is kept for
	// the failure message.
	errorBodyLimit = 2048
)

// StatusError is returned when the server answers with a non-2xx status.
// Body holds a truncated copy of the response body for error reporting.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// IsCancelled reports whether err is the result of an aborted request,
// i.e. the request context was cancelled rather than the transfer failing.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Client fetches URLs over HTTP. The zero value is not usable; construct
// with New.
type Client struct {
	httpClient *http.Client
}

// New creates a client with the given per-request timeout.
// A zero timeout uses the default of 60 seconds.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs a GET and returns the full response body.
//
// Classification of failures:
//   - cancelled context: the returned error satisfies IsCancelled
//   - non-2xx response: *StatusError carrying the status code and body
//   - anything else: a generic transport error
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
