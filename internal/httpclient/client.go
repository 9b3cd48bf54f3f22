package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/config"
)

// RequestBuilder produces one request per call from the configured target,
// method, headers and body.
type RequestBuilder struct {
	method  string
	target  string
	headers http.Header
	body    BodySource
}

func NewRequestBuilder(cfg *config.Config) (*RequestBuilder, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	target := strings.TrimSpace(cfg.TargetURL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}

	bodySource, err := NewBodySource(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range cfg.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	return &RequestBuilder{
		method:  method,
		target:  target,
		headers: headers,
		body:    bodySource,
	}, nil
}

// Method returns the normalized request method.
func (b *RequestBuilder) Method() string { return b.method }

// Target returns the request URL.
func (b *RequestBuilder) Target() string { return b.target }

func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reader, err := b.body.NewReader()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, b.method, b.target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	req.Header = b.headers.Clone()

	length, known := b.body.ContentLength()
	if known && length == 0 {
		_ = reader.Close()
		req.Body = http.NoBody
		req.ContentLength = 0
		return req, nil
	}
	if known {
		req.ContentLength = length
	}
	req.GetBody = b.body.NewReader

	return req, nil
}

// NewClient returns a client tuned for many concurrent users hitting the
// same host.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// drain discards what is left of a response body so the connection can be
// reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxBodyReadSize))
	_ = body.Close()
}
