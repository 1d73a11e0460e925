// Package upstream is the JSON-over-HTTP transport shared by every
// collaborator client. Each call is a single POST: there is no retry and no
// endpoint rotation, failures are classified and returned to the caller.
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

	"go.uber.org/zap"

	"github.com/gonkalabs/kpg-client/internal/logging"
)

var (
	// ErrTransport marks a collaborator that was unreachable or answered
	// with a non-2xx status.
	ErrTransport = errors.New("upstream: transport failure")
	// ErrBadResponse marks a 2xx response whose body could not be decoded
	// or did not match the expected shape.
	ErrBadResponse = errors.New("upstream: bad response")
)

const maxResponseBytes = 4 << 20

// RequestOption decorates an outgoing request. body is the exact JSON that
// will be sent, so options may sign it.
type RequestOption func(req *http.Request, body []byte)

// Client posts JSON to collaborators under a single base address.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l.WithComponent("upstream") }
}

// New creates a Client for baseURL (e.g. http://127.0.0.1:8000).
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base address.
func (c *Client) BaseURL() string { return c.baseURL }

// Post marshals in, posts it to path and decodes the response into out.
// The response is validated against the schema registered for path before
// decoding. Errors wrap ErrTransport or ErrBadResponse.
func (c *Client) Post(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("upstream: marshal %s: %w", path, err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("upstream: request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req, payload)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("upstream unreachable", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: POST %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.log.Debug("upstream response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: POST %s: status %d body=%q", ErrTransport, path, resp.StatusCode, truncateBody(body))
	}
	if err != nil {
		return fmt.Errorf("%w: POST %s: read body: %v", ErrTransport, path, err)
	}

	return decode(path, body, out)
}

func decode(path string, body []byte, out any) error {
	if s := schemaFor(path); s != nil {
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("%w: %s: decode: %v", ErrBadResponse, path, err)
		}
		if err := s.Validate(doc); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadResponse, path, err)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrBadResponse, path, err)
	}
	return nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
