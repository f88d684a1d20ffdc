// Package remote holds HTTP clients for the external services the bot relies
// on: corpus collection, fine-tuning, and text generation. All three speak
// JSON over HTTP and authenticate with a shared bearer token.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	// Timeout bounds each call. Zero leaves the caller's context in charge,
	// which suits collection and training runs that take hours.
	Timeout    time.Duration
	MaxRetries int

	HTTPClient *http.Client
}

// Client is a JSON-over-HTTP caller shared by the service clients.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

// New validates opts and builds a Client. The default transport is traced.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		timeout:    opts.Timeout,
		maxRetries: maxRetries,
		httpClient: hc,
	}, nil
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// doJSON sends one request, retrying temporary failures up to maxRetries.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, method, path, body, out, c.maxRetries)
}

// doJSONOnce sends exactly one request. Collection and fine-tuning start
// long-running work on the far side and must not be re-sent.
func (c *Client) doJSONOnce(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, method, path, body, out, 0)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any, maxRetries int) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx2 := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx2, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx2.Err() != nil {
			return ctx2.Err()
		}

		req, err := http.NewRequestWithContext(ctx2, method, c.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return readErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				herr := parseHTTPError(resp.StatusCode, raw)
				if h, ok := herr.(*HTTPError); ok && !h.Temporary() {
					return herr
				}
				lastErr = herr
			} else {
				if out == nil || len(bytes.TrimSpace(raw)) == 0 {
					return nil
				}
				return json.Unmarshal(raw, out)
			}
		}

		if attempt < maxRetries {
			select {
			case <-ctx2.Done():
				return ctx2.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return lastErr
}
