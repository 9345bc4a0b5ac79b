// Package gateway is the HTTP client for the remote auth service and the error taxonomy
// every other package uses to reason about its failures.
package gateway

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 15 * time.Second

// Doer sends an HTTP request. *http.Client and the authenticated request pipeline both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an http.Client with a bounded timeout and an OpenTelemetry transport.
// A timeout surfaces as a network error like any other transport failure.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// caller performs JSON round trips against baseURL through doer.
type caller struct {
	baseURL string
	doer    Doer
}

func newCaller(baseURL string, doer Doer) caller {
	return caller{baseURL: strings.TrimRight(baseURL, "/"), doer: doer}
}

// call sends in (if non-nil) as JSON and decodes a 2xx body into out (if non-nil).
// bearer, when set, is attached as the Authorization header.
func (c caller) call(ctx context.Context, method, path string, op Op, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return gwErr
		}
		return NetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FromResponse(resp, op)
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

func malformed(status int, what string) *Error {
	return &Error{Kind: KindServer, Status: status, Message: "malformed response: " + what}
}
