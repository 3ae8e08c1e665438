package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const maxErrorSnippet = 256

// Transport performs the HTTP round trip shared by all connectors: pacing,
// per-call timeout, status mapping. Signing stays in each connector.
type Transport struct {
	Exchange     Exchange
	BaseURL      string
	Client       *http.Client
	Timeout      time.Duration
	Limiter      *RateLimiter
	WeightHeader string
	Log          logrus.FieldLogger
}

// Request is one signed call. Path may carry a query string.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// NewTransport builds a transport from connector options.
func NewTransport(ex Exchange, opts Options, limiter *RateLimiter) *Transport {
	return &Transport{
		Exchange: ex,
		BaseURL:  strings.TrimRight(opts.BaseURL, "/"),
		Client:   opts.HTTPClient,
		Timeout:  opts.Timeout,
		Limiter:  limiter,
		Log:      opts.Logger.WithField("exchange", ex),
	}
}

// Do sends the request and returns the body of a 2xx response.
func (t *Transport) Do(ctx context.Context, r Request) ([]byte, error) {
	endpoint := stripQuery(r.Path)
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, t.fail(r.Method, endpoint, 0, "rate limiter", err)
		}
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, t.BaseURL+r.Path, body)
	if err != nil {
		return nil, t.fail(r.Method, endpoint, 0, "build request", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	res, err := t.Client.Do(req)
	if err != nil {
		var ne net.Error
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
		// url.Error repeats the full URL, query included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		if timedOut {
			return nil, t.fail(r.Method, endpoint, 0, "timeout", err)
		}
		return nil, t.fail(r.Method, endpoint, 0, "request failed", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, t.fail(r.Method, endpoint, res.StatusCode, "read body", err)
	}
	if t.Limiter != nil && t.WeightHeader != "" {
		t.Limiter.UpdateFromHeader(res.Header.Get(t.WeightHeader))
	}

	t.Log.WithFields(logrus.Fields{
		"method":     r.Method,
		"endpoint":   endpoint,
		"status":     res.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("exchange call")

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, &CredentialError{
			Exchange: t.Exchange,
			Reason:   fmt.Sprintf("%s %s rejected with status %d", r.Method, endpoint, res.StatusCode),
		}
	case res.StatusCode >= 300:
		return nil, t.fail(r.Method, endpoint, res.StatusCode, Snippet(data), nil)
	}
	return data, nil
}

// Decode unmarshals a response body, mapping failures to TransportError.
func (t *Transport) Decode(method, path string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return t.fail(method, stripQuery(path), 0, "decode response", err)
	}
	return nil
}

// APIError builds the error for an exchange-level failure code in a 2xx body.
func (t *Transport) APIError(method, path, code, msg string) error {
	return &TransportError{
		Exchange: t.Exchange,
		Method:   method,
		Endpoint: stripQuery(path),
		Code:     code,
		Message:  msg,
	}
}

func (t *Transport) fail(method, endpoint string, status int, msg string, err error) error {
	return &TransportError{
		Exchange: t.Exchange,
		Method:   method,
		Endpoint: endpoint,
		Status:   status,
		Message:  msg,
		Err:      err,
	}
}

// Snippet shortens a response body for error messages.
func Snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorSnippet {
		return s[:maxErrorSnippet] + "..."
	}
	return s
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
