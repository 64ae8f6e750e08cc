package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Funcs adapts plain functions into a connector. Nil fields are treated as
// not implemented: Connect then always succeeds.
type Funcs struct {
	ConnectFn    func(ctx context.Context) error
	DisconnectFn func(ctx context.Context) error
	HealthFn     func(ctx context.Context) error
	MockFn       func(ctx context.Context) error
}

func (f Funcs) Connect(ctx context.Context) error {
	if f.ConnectFn == nil {
		return nil
	}
	return f.ConnectFn(ctx)
}

func (f Funcs) Disconnect(ctx context.Context) error {
	if f.DisconnectFn == nil {
		return nil
	}
	return f.DisconnectFn(ctx)
}

func (f Funcs) HealthCheck(ctx context.Context) error {
	if f.HealthFn == nil {
		return nil
	}
	return f.HealthFn(ctx)
}

func (f Funcs) InitMock(ctx context.Context) error {
	if f.MockFn == nil {
		return nil
	}
	return f.MockFn(ctx)
}

// HTTPEndpoint connects to a remote service by probing a health URL.
// Connect and HealthCheck both require a 2xx answer; InitMock only checks that
// the URL is well formed, so it never touches the network.
type HTTPEndpoint struct {
	URL    string
	Client *http.Client
}

// NewHTTPEndpoint returns an endpoint with a client bounded by timeout.
func NewHTTPEndpoint(rawURL string, timeout time.Duration) *HTTPEndpoint {
	return &HTTPEndpoint{URL: rawURL, Client: &http.Client{Timeout: timeout}}
}

func (h *HTTPEndpoint) Connect(ctx context.Context) error {
	return h.probe(ctx)
}

func (h *HTTPEndpoint) HealthCheck(ctx context.Context) error {
	return h.probe(ctx)
}

func (h *HTTPEndpoint) InitMock(context.Context) error {
	u, err := url.Parse(h.URL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", h.URL)
	}
	return nil
}

func (h *HTTPEndpoint) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s answered %d", h.URL, resp.StatusCode)
	}
	return nil
}

// retryAfter parses the delay-seconds form of Retry-After, defaulting to 30s.
func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 30 * time.Second
}
